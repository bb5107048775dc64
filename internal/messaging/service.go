// ABOUTME: Messaging service for conversation resolution, directory, and threads
// ABOUTME: Owns canonical pair identity, unread counts, and read-state transitions

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/restitch/restitch-server/internal/store"
)

// DefaultThreadPageSize bounds the initial message page when no limit is configured.
const DefaultThreadPageSize = 100

// DefaultStoreTimeout bounds every persistence call issued by the service.
const DefaultStoreTimeout = 5 * time.Second

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	GetUsers(ctx context.Context, ids []string) (map[string]*store.User, error)
	GetProduct(ctx context.Context, id string) (*store.Product, error)

	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByParticipants(ctx context.Context, participantA, participantB, productID string) (*store.Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]*store.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	SaveMessage(ctx context.Context, msg *store.Message) error
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, viewerID string, at time.Time) (int64, error)

	LatestMessages(ctx context.Context, conversationIDs []string) (map[string]*store.Message, error)
	UnreadCounts(ctx context.Context, conversationIDs []string, viewerID string) (map[string]int, error)
	UnreadTotal(ctx context.Context, viewerID string) (int, error)
}

// Service is the conversation directory and thread manager. All conversation
// identity, unread computation, and read-state transitions flow through here.
type Service struct {
	store        ConversationStore
	logger       *slog.Logger
	pageSize     int
	storeTimeout time.Duration
}

// Options tune the service. Zero values fall back to defaults.
type Options struct {
	ThreadPageSize int
	StoreTimeout   time.Duration
}

// New creates a new messaging Service
func New(st ConversationStore, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := opts.ThreadPageSize
	if pageSize <= 0 {
		pageSize = DefaultThreadPageSize
	}
	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Service{
		store:        st,
		logger:       logger.With("component", "messaging"),
		pageSize:     pageSize,
		storeTimeout: timeout,
	}
}

// ConversationSummary is one row of the conversation directory.
type ConversationSummary struct {
	Conversation *store.Conversation
	OtherUser    *store.User // nil if the profile snapshot is missing
	LastMessage  *store.Message
	UnreadCount  int
}

// Thread is a loaded conversation with its message page and metadata.
// Messages reflect the state before the read-state transition was applied,
// so callers can tell which messages were just marked read.
type Thread struct {
	Conversation *store.Conversation
	OtherUser    *store.User
	Product      *store.Product // nil unless the conversation is product-scoped
	Messages     []*store.Message
}

// SendRequest contains everything needed to append a message to a conversation
type SendRequest struct {
	ConversationID  string
	SenderID        string
	Kind            string
	Content         string
	ImageURL        string
	SharedProductID string
}

// canonicalPair orders two user IDs so the smaller one comes first.
// Every conversation lookup and insert must go through this; a single
// caller using raw order would create duplicate rows for the same pair.
func canonicalPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// storeCtx bounds a persistence call with the configured timeout.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// ResolveConversation returns the existing conversation between requesterID
// and otherID (scoped to productID, "" for the general thread), creating it
// if none exists. The operation is idempotent: repeated calls with the pair
// in either order return the same conversation.
func (s *Service) ResolveConversation(ctx context.Context, requesterID, otherID, productID string) (*store.Conversation, error) {
	if requesterID == "" || otherID == "" {
		return nil, fmt.Errorf("%w: both user identifiers are required", ErrInvalidRequest)
	}
	if requesterID == otherID {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidRequest)
	}

	low, high := canonicalPair(requesterID, otherID)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.store.GetConversationByParticipants(sctx, low, high, productID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: looking up conversation: %w", ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:             uuid.New().String(),
		ParticipantA:   low,
		ParticipantB:   high,
		ProductID:      productID,
		Status:         store.ConversationStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	err = s.store.CreateConversation(sctx, conv)
	if err == nil {
		s.logger.Debug("conversation created",
			"conversation_id", conv.ID,
			"participant_a", low,
			"participant_b", high,
			"product_id", productID)
		return conv, nil
	}

	// Two concurrent resolves for the same pair race between lookup and
	// insert; the UNIQUE constraint rejects the loser, which re-fetches
	// the winner's row instead of failing.
	if errors.Is(err, store.ErrDuplicateConversation) {
		existing, lookupErr := s.store.GetConversationByParticipants(sctx, low, high, productID)
		if lookupErr == nil {
			s.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
			return existing, nil
		}
		s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		return nil, fmt.Errorf("%w: re-fetching conversation after duplicate: %w", ErrStoreUnavailable, lookupErr)
	}

	return nil, fmt.Errorf("%w: creating conversation: %w", ErrStoreUnavailable, err)
}

// ListConversations returns the viewer's conversation directory, most
// recently active first, each row enriched with the other participant's
// profile snapshot, the last message, and the unread count. Enrichment is
// three set-based queries for the whole list, never one per conversation.
func (s *Service) ListConversations(ctx context.Context, viewerID string) ([]ConversationSummary, error) {
	if viewerID == "" {
		return nil, fmt.Errorf("%w: viewer identifier is required", ErrInvalidRequest)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	conversations, err := s.store.ListConversationsByUser(sctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %w", ErrStoreUnavailable, err)
	}
	if len(conversations) == 0 {
		return []ConversationSummary{}, nil
	}

	conversationIDs := make([]string, len(conversations))
	otherIDs := make([]string, len(conversations))
	for i, conv := range conversations {
		conversationIDs[i] = conv.ID
		otherIDs[i] = conv.Other(viewerID)
	}

	users, err := s.store.GetUsers(sctx, otherIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: loading profiles: %w", ErrStoreUnavailable, err)
	}

	latest, err := s.store.LatestMessages(sctx, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: loading last messages: %w", ErrStoreUnavailable, err)
	}

	unread, err := s.store.UnreadCounts(sctx, conversationIDs, viewerID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading unread counts: %w", ErrStoreUnavailable, err)
	}

	summaries := make([]ConversationSummary, len(conversations))
	for i, conv := range conversations {
		summaries[i] = ConversationSummary{
			Conversation: conv,
			OtherUser:    users[conv.Other(viewerID)],
			LastMessage:  latest[conv.ID],
			UnreadCount:  unread[conv.ID],
		}
	}

	return summaries, nil
}

// LoadThread loads a conversation's message page for display and, as a side
// effect, marks every message addressed to the viewer as read. The returned
// messages are the pre-transition snapshot. A failed read-state update is
// logged and does not fail the load: the message list is the primary
// deliverable.
func (s *Service) LoadThread(ctx context.Context, conversationID, viewerID string) (*Thread, error) {
	if conversationID == "" || viewerID == "" {
		return nil, fmt.Errorf("%w: conversation and viewer identifiers are required", ErrInvalidRequest)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.store.GetConversation(sctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading conversation: %w", ErrStoreUnavailable, err)
	}

	if !conv.HasParticipant(viewerID) {
		return nil, ErrForbidden
	}

	messages, err := s.store.GetConversationMessages(sctx, conversationID, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: loading messages: %w", ErrStoreUnavailable, err)
	}

	thread := &Thread{
		Conversation: conv,
		Messages:     messages,
	}

	users, err := s.store.GetUsers(sctx, []string{conv.Other(viewerID)})
	if err != nil {
		return nil, fmt.Errorf("%w: loading profile: %w", ErrStoreUnavailable, err)
	}
	thread.OtherUser = users[conv.Other(viewerID)]

	if conv.ProductID != "" {
		product, err := s.store.GetProduct(sctx, conv.ProductID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: loading product: %w", ErrStoreUnavailable, err)
		}
		thread.Product = product
	}

	s.markRead(conversationID, viewerID)

	return thread, nil
}

// markRead applies the bulk read-state transition with a separate timeout
// context so it completes even if the request context is cancelled.
func (s *Service) markRead(conversationID, viewerID string) {
	mctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	count, err := s.store.MarkMessagesRead(mctx, conversationID, viewerID, time.Now().UTC())
	if err != nil {
		s.logger.Warn("read-state update failed",
			"error", err,
			"conversation_id", conversationID,
			"viewer_id", viewerID)
		return
	}
	if count > 0 {
		s.logger.Debug("messages marked read",
			"conversation_id", conversationID,
			"viewer_id", viewerID,
			"count", count)
	}
}

// SendMessage appends a message to a conversation and bumps its activity
// timestamp. Only participants may send; the message kind determines which
// fields are required.
func (s *Service) SendMessage(ctx context.Context, req *SendRequest) (*store.Message, error) {
	if req.ConversationID == "" || req.SenderID == "" {
		return nil, fmt.Errorf("%w: conversation and sender identifiers are required", ErrInvalidRequest)
	}
	if err := validateKind(req); err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.store.GetConversation(sctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, req.ConversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading conversation: %w", ErrStoreUnavailable, err)
	}

	if !conv.HasParticipant(req.SenderID) {
		return nil, ErrForbidden
	}

	if req.Kind == store.MessageKindProductShare {
		if _, err := s.store.GetProduct(sctx, req.SharedProductID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: shared product %s does not exist", ErrInvalidRequest, req.SharedProductID)
			}
			return nil, fmt.Errorf("%w: checking shared product: %w", ErrStoreUnavailable, err)
		}
	}

	now := time.Now().UTC()
	msg := &store.Message{
		ID:              uuid.New().String(),
		ConversationID:  req.ConversationID,
		SenderID:        req.SenderID,
		Kind:            req.Kind,
		Content:         req.Content,
		ImageURL:        req.ImageURL,
		SharedProductID: req.SharedProductID,
		Status:          store.MessageStatusSent,
		CreatedAt:       now,
	}

	if err := s.store.SaveMessage(sctx, msg); err != nil {
		return nil, fmt.Errorf("%w: saving message: %w", ErrStoreUnavailable, err)
	}

	// The message is the source of truth; a failed activity bump only
	// costs directory ordering until the next message lands.
	if err := s.store.TouchConversation(sctx, req.ConversationID, now); err != nil {
		s.logger.Warn("activity bump failed",
			"error", err,
			"conversation_id", req.ConversationID)
	}

	s.logger.Debug("message sent",
		"message_id", msg.ID,
		"conversation_id", req.ConversationID,
		"kind", msg.Kind)

	return msg, nil
}

// validateKind checks the kind-specific field requirements of a send request.
func validateKind(req *SendRequest) error {
	switch req.Kind {
	case store.MessageKindText, store.MessageKindSystem:
		if req.Content == "" {
			return fmt.Errorf("%w: content is required", ErrInvalidRequest)
		}
	case store.MessageKindImage:
		if req.ImageURL == "" {
			return fmt.Errorf("%w: image_url is required for image messages", ErrInvalidRequest)
		}
	case store.MessageKindProductShare:
		if req.SharedProductID == "" {
			return fmt.Errorf("%w: shared_product_id is required for product shares", ErrInvalidRequest)
		}
	case "":
		return fmt.Errorf("%w: kind is required", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unknown message kind %q", ErrInvalidRequest, req.Kind)
	}
	return nil
}

// UnreadCount returns the number of unread messages addressed to viewerID
// in a single conversation.
func (s *Service) UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	counts, err := s.store.UnreadCounts(sctx, []string{conversationID}, viewerID)
	if err != nil {
		return 0, fmt.Errorf("%w: loading unread count: %w", ErrStoreUnavailable, err)
	}
	return counts[conversationID], nil
}

// UnreadTotal returns the viewer's unread message count across all
// conversations, for the navigation badge.
func (s *Service) UnreadTotal(ctx context.Context, viewerID string) (int, error) {
	if viewerID == "" {
		return 0, fmt.Errorf("%w: viewer identifier is required", ErrInvalidRequest)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	total, err := s.store.UnreadTotal(sctx, viewerID)
	if err != nil {
		return 0, fmt.Errorf("%w: loading unread total: %w", ErrStoreUnavailable, err)
	}
	return total, nil
}
