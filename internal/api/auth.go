package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/microcoaster-core/internal/audit"
	"github.com/nerrad567/microcoaster-core/internal/auth"
	"github.com/nerrad567/microcoaster-core/internal/events"
)

// maxDisplayNameLength bounds PATCH /me display names.
const maxDisplayNameLength = 100

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        *auth.User `json:"user"`
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
}

// handleLogin authenticates a user and returns a JWT access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, err := auth.Authenticate(r.Context(), s.users, req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "invalid credentials")
		return
	case errors.Is(err, auth.ErrUserInactive):
		writeForbidden(w, "account is inactive")
		return
	case err != nil:
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTLMinutes
	}
	token, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("token generation failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	s.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)
	s.record(r.Context(), audit.Entry{Action: audit.ActionLogin, UserID: user.ID})
	s.events.LoggedIn(events.UserPayload{
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60, // seconds
		User:        user,
	})
}

// defaultTokenTTLMinutes applies when security.jwt.access_token_ttl is unset.
const defaultTokenTTLMinutes = 60

// handleLogout announces the logout. Tokens are stateless and simply expire.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	s.events.LoggedOut(events.UserPayload{UserID: id.UserID, Role: string(id.Role)})
	w.WriteHeader(http.StatusNoContent)
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(identityFromContext(r.Context()))

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(s.tickets.ttl.Seconds()),
	})
}

// handleGetMe returns the caller's profile.
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	user, err := s.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		s.writeServiceError(w, err, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateMe changes the caller's display name.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DisplayName == nil {
		writeBadRequest(w, "display_name is required")
		return
	}
	name := strings.TrimSpace(*req.DisplayName)
	if name == "" || len(name) > maxDisplayNameLength {
		writeBadRequest(w, "display_name must be 1-100 characters")
		return
	}

	id := identityFromContext(r.Context())
	user, err := s.users.UpdateProfile(r.Context(), id.UserID, name)
	if err != nil {
		s.writeServiceError(w, err, "failed to update profile")
		return
	}

	s.events.ProfileChanged(events.UserPayload{
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
	})
	s.record(r.Context(), audit.Entry{
		Action:  audit.ActionProfileUpdate,
		UserID:  user.ID,
		Details: map[string]any{"display_name": user.DisplayName},
	})
	writeJSON(w, http.StatusOK, user)
}
