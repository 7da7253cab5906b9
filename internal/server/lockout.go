// lockout.go - Per-account lockout after repeated failed sign-ins.
package server

import (
	"context"
	"sync"
	"time"
)

// loginAttempt tracks failed sign-ins for one account.
type loginAttempt struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

// AccountLockout locks an email after maxAttempts failures inside window.
type AccountLockout struct {
	mu              sync.Mutex
	attempts        map[string]*loginAttempt
	maxAttempts     int
	lockoutDuration time.Duration
	window          time.Duration
	now             func() time.Time
}

// NewAccountLockout creates a lockout manager.
// maxAttempts: failures before lockout (e.g., 5)
// lockoutDuration: how long the account stays locked (e.g., 15 minutes)
// window: period over which failures are counted (e.g., 10 minutes)
func NewAccountLockout(maxAttempts int, lockoutDuration, window time.Duration) *AccountLockout {
	return &AccountLockout{
		attempts:        make(map[string]*loginAttempt),
		maxAttempts:     maxAttempts,
		lockoutDuration: lockoutDuration,
		window:          window,
		now:             time.Now,
	}
}

// RecordFailure counts a failed sign-in and reports whether the account
// is now locked.
func (al *AccountLockout) RecordFailure(key string) (locked bool, until time.Time) {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	a, ok := al.attempts[key]
	if !ok {
		a = &loginAttempt{}
		al.attempts[key] = a
	}
	if now.Sub(a.lastAttempt) > al.window {
		a.count = 0
	}
	a.count++
	a.lastAttempt = now

	if a.count >= al.maxAttempts {
		a.lockedUntil = now.Add(al.lockoutDuration)
		return true, a.lockedUntil
	}
	return false, time.Time{}
}

// RecordSuccess clears the failures of key.
func (al *AccountLockout) RecordSuccess(key string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.attempts, key)
}

// IsLocked reports whether key is locked and until when.
func (al *AccountLockout) IsLocked(key string) (bool, time.Time) {
	al.mu.Lock()
	defer al.mu.Unlock()

	a, ok := al.attempts[key]
	if !ok || a.lockedUntil.IsZero() || !al.now().Before(a.lockedUntil) {
		return false, time.Time{}
	}
	return true, a.lockedUntil
}

// sweep drops entries that are neither locked nor recent.
func (al *AccountLockout) sweep() {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	for key, a := range al.attempts {
		if now.After(a.lockedUntil) && now.Sub(a.lastAttempt) > 2*al.window {
			delete(al.attempts, key)
		}
	}
}

// Run sweeps stale entries every interval until ctx ends.
func (al *AccountLockout) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			al.sweep()
		}
	}
}
