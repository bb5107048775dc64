// ABOUTME: HTTP handlers for user profiles and the follow graph
// ABOUTME: Serves /api/users/{id} plus follow, followers, and following routes

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/restitch/restitch-server/internal/auth"
	"github.com/restitch/restitch-server/internal/store"
)

const followListLimit = 100

// ProfileResponse is the JSON response for GET /api/users/{id}.
type ProfileResponse struct {
	UserResponse
	Followers int `json:"followers"`
	Following int `json:"following"`
}

// FollowListResponse is the JSON response for followers/following lists.
type FollowListResponse struct {
	Users []UserResponse `json:"users"`
}

// handleUserRoutes dispatches /api/users/{id} and its sub-routes.
func (s *Server) handleUserRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	userID, sub, _ := strings.Cut(rest, "/")
	if userID == "" {
		s.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch sub {
	case "":
		s.handleGetProfile(w, r, userID)
	case "follow":
		s.handleFollow(w, r, userID)
	case "followers":
		s.handleFollowList(w, r, userID, true)
	case "following":
		s.handleFollowList(w, r, userID, false)
	default:
		s.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("loading user failed", "error", err, "user_id", userID)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	followers, following, err := s.store.CountFollows(r.Context(), userID)
	if err != nil {
		s.logger.Error("counting follows failed", "error", err, "user_id", userID)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	s.writeJSON(w, http.StatusOK, ProfileResponse{
		UserResponse: *userToResponse(user),
		Followers:    followers,
		Following:    following,
	})
}

// handleFollow handles POST and DELETE /api/users/{id}/follow for the
// authenticated viewer.
func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request, userID string) {
	viewer := auth.MustFromContext(r.Context())

	if viewer.UserID == userID {
		s.sendJSONError(w, http.StatusBadRequest, "cannot follow yourself")
		return
	}

	switch r.Method {
	case http.MethodPost:
		if _, err := s.store.GetUser(r.Context(), userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.sendJSONError(w, http.StatusNotFound, "user not found")
				return
			}
			s.logger.Error("loading user failed", "error", err, "user_id", userID)
			s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		if err := s.store.CreateFollow(r.Context(), viewer.UserID, userID); err != nil {
			s.logger.Error("creating follow failed", "error", err)
			s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		err := s.store.DeleteFollow(r.Context(), viewer.UserID, userID)
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "not following this user")
			return
		}
		if err != nil {
			s.logger.Error("deleting follow failed", "error", err)
			s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFollowList(w http.ResponseWriter, r *http.Request, userID string, followers bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var users []*store.User
	var err error
	if followers {
		users, err = s.store.ListFollowers(r.Context(), userID, followListLimit)
	} else {
		users, err = s.store.ListFollowing(r.Context(), userID, followListLimit)
	}
	if err != nil {
		s.logger.Error("listing follows failed", "error", err, "user_id", userID)
		s.sendJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	response := FollowListResponse{Users: make([]UserResponse, len(users))}
	for i, u := range users {
		response.Users[i] = *userToResponse(u)
	}

	s.writeJSON(w, http.StatusOK, response)
}
