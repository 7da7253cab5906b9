package server

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var errUserNotFound = errors.New("user not found")

// userRecord is the subset of a users row needed to sign someone in.
type userRecord struct {
	ID             int64
	Email          string
	PasswordHash   string
	Role           string
	EmailConfirmed bool
}

func findUserByEmail(ctx context.Context, db *sql.DB, email string) (userRecord, error) {
	var u userRecord
	err := db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, email_confirmed FROM users WHERE email = $1`,
		normalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.EmailConfirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return u, errUserNotFound
	}
	return u, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// verifyPassword compares a password with its bcrypt hash.
func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// burnPasswordCheck keeps the cost of an unknown email close to that of
// a wrong password.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
