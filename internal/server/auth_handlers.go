package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	EmailConfirmed *bool  `json:"email_confirmed,omitempty"`
}

type loginResponse struct {
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// handleLogin checks an email and password against the users table and
// sets the auth-token cookie on success.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	if locked, until := s.lockout.IsLocked(email); locked {
		loginAttempts.WithLabelValues("locked").Inc()
		w.Header().Set("Retry-After", retryAfter(until, s.lockout.now()))
		writeJSONError(w, http.StatusTooManyRequests, "account temporarily locked")
		return
	}

	rid := RequestIDFromContext(r.Context())
	u, err := findUserByEmail(r.Context(), s.cfg.DB, email)
	switch {
	case errors.Is(err, errUserNotFound):
		burnPasswordCheck(req.Password)
		s.rejectLogin(w, email)
		return
	case err != nil:
		loginAttempts.WithLabelValues("error").Inc()
		s.log.Error("login lookup failed", map[string]any{"rid": rid}, err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !verifyPassword(req.Password, u.PasswordHash) {
		s.rejectLogin(w, email)
		return
	}

	confirmed := u.EmailConfirmed
	claim := SessionClaim{
		SubjectID:      u.ID,
		Email:          u.Email,
		Role:           u.Role,
		EmailConfirmed: &confirmed,
	}
	token, exp, err := s.cfg.Auth.Issue(claim)
	if err != nil {
		loginAttempts.WithLabelValues("error").Inc()
		s.log.Error("issue credential failed", map[string]any{"rid": rid, "user_id": u.ID}, err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.lockout.RecordSuccess(email)
	loginAttempts.WithLabelValues("success").Inc()
	http.SetCookie(w, s.authCookie(token, int(CredentialTTL.Seconds())))
	s.log.Info("login", map[string]any{"rid": rid, "user_id": u.ID, "role": u.Role})

	writeJSON(w, http.StatusOK, loginResponse{User: toUserResponse(claim), ExpiresAt: exp.UTC()})
}

func (s *Server) rejectLogin(w http.ResponseWriter, email string) {
	loginAttempts.WithLabelValues("invalid").Inc()
	if locked, _ := s.lockout.RecordFailure(email); locked {
		s.log.Warn("account locked after failed logins", map[string]any{"email": email})
	}
	writeJSONError(w, http.StatusUnauthorized, "invalid email or password")
}

// handleLogout clears the cookie. Issued credentials stay valid until
// they expire; there is no server-side revocation list.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.authCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claim, ok := ClaimFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(claim))
}

func (s *Server) authCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     AuthCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func toUserResponse(c SessionClaim) userResponse {
	return userResponse{ID: c.SubjectID, Email: c.Email, Role: c.Role, EmailConfirmed: c.EmailConfirmed}
}

func retryAfter(until, now time.Time) string {
	secs := int(until.Sub(now).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
