// initguard.go - Lazy, once-only database initialization.
//
// The first API request after start (or after a failed attempt) runs
// the bootstrap routine; concurrent requests wait a bounded time for it
// and then carry on regardless. The guard is fail-open: a broken store
// surfaces through the handlers' own queries, never by blocking here.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// InitState is the lifecycle of the initialization guard.
type InitState int32

const (
	StateUninitialized InitState = iota
	StateInitializing
	StateReady
)

func (s InitState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// InitFunc applies schema and seed data. It must be safe to re-run.
type InitFunc func(ctx context.Context) error

// ErrInitInProgress is returned to callers that stopped waiting for
// another request's initialization attempt.
var ErrInitInProgress = errors.New("initialization in progress")

// InitError reports a failed initialization attempt.
type InitError struct {
	Attempt int
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialization attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// InitGuardOptions tune an InitGuard. Zero values pick the defaults.
type InitGuardOptions struct {
	// Timeout bounds a single attempt (default 30s).
	Timeout time.Duration
	// Wait bounds how long a caller waits for another caller's attempt.
	// Zero means callers never wait.
	Wait time.Duration
	// Logger defaults to the package logger.
	Logger *Logger
}

// InitGuard runs an InitFunc at most once at a time and remembers success.
type InitGuard struct {
	init    InitFunc
	timeout time.Duration
	wait    time.Duration
	log     *Logger

	mu       sync.Mutex
	state    InitState
	current  *initAttempt // set while Initializing
	attempts int
	lastErr  error
}

// initAttempt is one run of the InitFunc; err is valid once done is closed.
type initAttempt struct {
	done chan struct{}
	err  error
}

// NewInitGuard creates a guard in the Uninitialized state.
func NewInitGuard(init InitFunc, opts InitGuardOptions) *InitGuard {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	initStateGauge.Set(float64(StateUninitialized))
	return &InitGuard{
		init:    init,
		timeout: opts.Timeout,
		wait:    opts.Wait,
		log:     opts.Logger,
	}
}

// State returns the current state.
func (g *InitGuard) State() InitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastError returns the error of the most recent failed attempt, or nil.
func (g *InitGuard) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// EnsureInitialized returns nil once the store is initialized.
//
// When no attempt is running, the caller starts one and waits for it
// until ctx ends. When another caller's attempt is running, this waits
// up to the configured budget (or until ctx ends). Either way a caller
// that stops waiting gets ErrInitInProgress and the attempt carries on.
// Failed attempts return an *InitError and leave the guard retryable.
func (g *InitGuard) EnsureInitialized(ctx context.Context) error {
	g.mu.Lock()
	switch g.state {
	case StateReady:
		g.mu.Unlock()
		return nil
	case StateInitializing:
		a := g.current
		g.mu.Unlock()
		return g.waitFor(ctx, a)
	}

	g.state = StateInitializing
	g.attempts++
	n := g.attempts
	a := &initAttempt{done: make(chan struct{})}
	g.current = a
	g.mu.Unlock()
	initStateGauge.Set(float64(StateInitializing))

	go g.finish(ctx, n, a)

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ErrInitInProgress
	}
}

// finish runs attempt n and publishes its outcome.
func (g *InitGuard) finish(ctx context.Context, n int, a *initAttempt) {
	err := g.run(ctx, n)

	g.mu.Lock()
	if err != nil {
		g.state = StateUninitialized
		g.lastErr = err
	} else {
		g.state = StateReady
		g.lastErr = nil
	}
	g.current = nil
	a.err = err
	state := g.state
	g.mu.Unlock()
	close(a.done)
	initStateGauge.Set(float64(state))
}

// run executes one attempt. The attempt keeps running if the request
// that started it goes away; only the guard's own timeout stops it.
func (g *InitGuard) run(ctx context.Context, attempt int) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	start := time.Now()
	fields := map[string]any{"attempt": attempt}
	g.log.Info("database initialization started", fields)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		fields["ms"] = time.Since(start).Milliseconds()
		if err != nil {
			err = &InitError{Attempt: attempt, Err: err}
			initAttempts.WithLabelValues("failure").Inc()
			g.log.Error("database initialization failed", fields, err)
			return
		}
		initAttempts.WithLabelValues("success").Inc()
		g.log.Info("database initialization complete", fields)
	}()

	if err := g.init(ctx); err != nil {
		return err
	}
	// An init routine that ignores ctx still fails a timed-out attempt.
	return ctx.Err()
}

func (g *InitGuard) waitFor(ctx context.Context, a *initAttempt) error {
	if g.wait <= 0 {
		return ErrInitInProgress
	}
	timer := time.NewTimer(g.wait)
	defer timer.Stop()

	select {
	case <-a.done:
		return a.err
	case <-timer.C:
		return ErrInitInProgress
	case <-ctx.Done():
		return ErrInitInProgress
	}
}

// Middleware ensures initialization before every request and always
// hands the request on, whatever the outcome.
func (g *InitGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.EnsureInitialized(r.Context()); err != nil {
			g.log.Debug("continuing without confirmed initialization", map[string]any{
				"rid":   RequestIDFromContext(r.Context()),
				"error": err.Error(),
			})
		}
		next.ServeHTTP(w, r)
	})
}
