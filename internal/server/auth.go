// auth.go - Stateless credential verification and issuance.
//
// The credential is an HS256 JWT in the auth-token cookie. Nothing is
// stored server side: the claim is trusted as signed, so a role or email
// change only takes effect when the user receives a new credential.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AuthCookieName is the cookie carrying the session credential.
	AuthCookieName = "auth-token"
	// CredentialTTL is the validity window of an issued credential.
	CredentialTTL = 24 * time.Hour
)

// Roles carried by a SessionClaim.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	// ErrMissingCredential means the request carried no auth-token cookie.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential covers bad signatures, malformed payloads and expiry.
	ErrInvalidCredential = errors.New("invalid credential")
	errEmptySecret       = errors.New("credential signing secret is empty")
)

// SessionClaim is the verified identity of one request.
type SessionClaim struct {
	SubjectID      int64  `json:"id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	EmailConfirmed *bool  `json:"email_confirmado,omitempty"`
}

// IsAdmin reports whether the claim carries the admin role.
func (c SessionClaim) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// tokenClaims is the signed payload. The subject has been written under
// both "id" and "userId" over time; either is accepted.
type tokenClaims struct {
	LegacyID       any    `json:"id,omitempty"`
	UserID         any    `json:"userId,omitempty"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	EmailConfirmed *bool  `json:"email_confirmado,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies session credentials.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator returns an error when secret is empty; there is no
// fallback secret.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errEmptySecret
	}
	return &Authenticator{
		secret: []byte(secret),
		ttl:    CredentialTTL,
		now:    time.Now,
	}, nil
}

// Issue signs a credential for claim, valid for CredentialTTL.
func (a *Authenticator) Issue(claim SessionClaim) (string, time.Time, error) {
	if claim.SubjectID <= 0 {
		return "", time.Time{}, fmt.Errorf("issue credential: invalid subject id %d", claim.SubjectID)
	}
	now := a.now()
	exp := now.Add(a.ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		LegacyID:       claim.SubjectID,
		Email:          claim.Email,
		Role:           claim.Role,
		EmailConfirmed: claim.EmailConfirmed,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(claim.SubjectID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign credential: %w", err)
	}
	return signed, exp, nil
}

// Verify reads and validates the auth-token cookie of r.
func (a *Authenticator) Verify(r *http.Request) (SessionClaim, error) {
	c, err := r.Cookie(AuthCookieName)
	if err != nil || c.Value == "" {
		authVerifications.WithLabelValues("missing").Inc()
		return SessionClaim{}, ErrMissingCredential
	}
	claim, err := a.VerifyToken(c.Value)
	if err != nil {
		authVerifications.WithLabelValues("invalid").Inc()
		return SessionClaim{}, err
	}
	authVerifications.WithLabelValues("ok").Inc()
	return claim, nil
}

// VerifyToken validates a raw credential string.
func (a *Authenticator) VerifyToken(raw string) (SessionClaim, error) {
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(raw, &tc,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
		jwt.WithJSONNumber(),
	)
	if err != nil {
		return SessionClaim{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	id, err := subjectID(tc.LegacyID, tc.UserID)
	if err != nil {
		return SessionClaim{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if tc.Role != RoleUser && tc.Role != RoleAdmin {
		return SessionClaim{}, fmt.Errorf("%w: unknown role %q", ErrInvalidCredential, tc.Role)
	}

	return SessionClaim{
		SubjectID:      id,
		Email:          tc.Email,
		Role:           tc.Role,
		EmailConfirmed: tc.EmailConfirmed,
	}, nil
}

// subjectID picks the first present identifier and coerces it to int64.
func subjectID(candidates ...any) (int64, error) {
	for _, v := range candidates {
		if v == nil {
			continue
		}
		id, err := coerceID(v)
		if err != nil {
			return 0, err
		}
		if id <= 0 {
			return 0, fmt.Errorf("subject id %d out of range", id)
		}
		return id, nil
	}
	return 0, errors.New("subject id missing")
}

func coerceID(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if id, err := x.Int64(); err == nil {
			return id, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("subject id %q is not an integer", x)
		}
		return floatID(f)
	case float64:
		return floatID(x)
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("subject id %q is not an integer", x)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("subject id has type %T", v)
	}
}

func floatID(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("subject id %v is not an integer", f)
	}
	return int64(f), nil
}

type claimKey struct{}

// ClaimFromContext returns the claim stored by requireAuth.
func ClaimFromContext(ctx context.Context) (SessionClaim, bool) {
	c, ok := ctx.Value(claimKey{}).(SessionClaim)
	return c, ok
}

// requireAuth rejects requests without a valid credential.
func (a *Authenticator) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claim, err := a.Verify(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimKey{}, claim)))
	})
}

// requireAdmin must run after requireAuth. The role comes from the
// credential; it is not re-read from the database.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claim, ok := ClaimFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if !claim.IsAdmin() {
			writeJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
