// ABOUTME: HTTP API handlers for conversations, threads, and unread counts
// ABOUTME: Maps messaging service errors onto JSON status responses

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/restitch/restitch-server/internal/auth"
	"github.com/restitch/restitch-server/internal/messaging"
	"github.com/restitch/restitch-server/internal/store"
)

// ResolveConversationRequest is the JSON request body for POST /api/conversations.
type ResolveConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
	ProductID   string `json:"product_id,omitempty"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Kind            string `json:"kind"`
	Content         string `json:"content,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	SharedProductID string `json:"shared_product_id,omitempty"`
}

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID             string `json:"id"`
	ParticipantA   string `json:"participant_a"`
	ParticipantB   string `json:"participant_b"`
	ProductID      string `json:"product_id,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
}

// UserResponse is the JSON shape of a user profile snapshot.
type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Verified  bool   `json:"verified"`
}

// MessageResponse is the JSON shape of a message.
type MessageResponse struct {
	ID              string `json:"id"`
	ConversationID  string `json:"conversation_id"`
	SenderID        string `json:"sender_id"`
	Kind            string `json:"kind"`
	Content         string `json:"content,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	SharedProductID string `json:"shared_product_id,omitempty"`
	Status          string `json:"status"`
	ReadAt          string `json:"read_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// ConversationSummaryResponse is one row of GET /api/conversations.
type ConversationSummaryResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	OtherUser    *UserResponse        `json:"other_user,omitempty"`
	LastMessage  *MessageResponse     `json:"last_message,omitempty"`
	UnreadCount  int                  `json:"unread_count"`
}

// ThreadResponse is the JSON response for GET /api/conversations/{id}/messages.
type ThreadResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	OtherUser    *UserResponse        `json:"other_user,omitempty"`
	Product      *ProductResponse     `json:"product,omitempty"`
	Messages     []MessageResponse    `json:"messages"`
}

// UnreadResponse is the JSON response for GET /api/unread.
type UnreadResponse struct {
	Total int `json:"total"`
}

func conversationToResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             c.ID,
		ParticipantA:   c.ParticipantA,
		ParticipantB:   c.ParticipantB,
		ProductID:      c.ProductID,
		Status:         c.Status,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
		LastActivityAt: c.LastActivityAt.Format(time.RFC3339),
	}
}

func userToResponse(u *store.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Verified:  u.Verified,
	}
}

func messageToResponse(m *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Kind:            m.Kind,
		Content:         m.Content,
		ImageURL:        m.ImageURL,
		SharedProductID: m.SharedProductID,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt.Format(time.RFC3339),
	}
	if m.ReadAt != nil {
		resp.ReadAt = m.ReadAt.Format(time.RFC3339)
	}
	return resp
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps a messaging service error onto an HTTP status.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrInvalidRequest):
		s.sendJSONError(w, http.StatusBadRequest, trimSentinel(err, messaging.ErrInvalidRequest))
	case errors.Is(err, messaging.ErrForbidden):
		s.sendJSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, messaging.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, messaging.ErrStoreUnavailable):
		s.logger.Error("store unavailable", "error", err)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		s.logger.Error("unexpected error", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// trimSentinel strips the sentinel prefix from a wrapped error so the client
// sees the specific detail, not the taxonomy label twice.
func trimSentinel(err error, sentinel error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != msg {
		return trimmed
	}
	return msg
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleConversations handles /api/conversations: POST resolves a
// conversation, GET lists the viewer's directory.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleResolveConversation(w, r)
	case http.MethodGet:
		s.handleListConversations(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleResolveConversation(w http.ResponseWriter, r *http.Request) {
	viewer := auth.MustFromContext(r.Context())

	var req ResolveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OtherUserID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "other_user_id is required")
		return
	}

	conv, err := s.messaging.ResolveConversation(r.Context(), viewer.UserID, req.OtherUserID, req.ProductID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, conversationToResponse(conv))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	viewer := auth.MustFromContext(r.Context())

	summaries, err := s.messaging.ListConversations(r.Context(), viewer.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	response := make([]ConversationSummaryResponse, len(summaries))
	for i, summary := range summaries {
		response[i] = ConversationSummaryResponse{
			Conversation: conversationToResponse(summary.Conversation),
			OtherUser:    userToResponse(summary.OtherUser),
			UnreadCount:  summary.UnreadCount,
		}
		if summary.LastMessage != nil {
			msg := messageToResponse(summary.LastMessage)
			response[i].LastMessage = &msg
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleConversationRoutes dispatches /api/conversations/{id}/messages.
func (s *Server) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	conversationID, sub, _ := strings.Cut(rest, "/")
	if conversationID == "" || sub != "messages" {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleLoadThread(w, r, conversationID)
	case http.MethodPost:
		s.handleSendMessage(w, r, conversationID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLoadThread(w http.ResponseWriter, r *http.Request, conversationID string) {
	viewer := auth.MustFromContext(r.Context())

	thread, err := s.messaging.LoadThread(r.Context(), conversationID, viewer.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	response := ThreadResponse{
		Conversation: conversationToResponse(thread.Conversation),
		OtherUser:    userToResponse(thread.OtherUser),
		Messages:     make([]MessageResponse, len(thread.Messages)),
	}
	if thread.Product != nil {
		response.Product = productToResponse(thread.Product)
	}
	for i, msg := range thread.Messages {
		response.Messages[i] = messageToResponse(msg)
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, conversationID string) {
	viewer := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := s.messaging.SendMessage(r.Context(), &messaging.SendRequest{
		ConversationID:  conversationID,
		SenderID:        viewer.UserID,
		Kind:            req.Kind,
		Content:         req.Content,
		ImageURL:        req.ImageURL,
		SharedProductID: req.SharedProductID,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, messageToResponse(msg))
}

// handleUnread handles GET /api/unread: the viewer's total unread badge count.
func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	viewer := auth.MustFromContext(r.Context())

	total, err := s.messaging.UnreadTotal(r.Context(), viewer.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, UnreadResponse{Total: total})
}
