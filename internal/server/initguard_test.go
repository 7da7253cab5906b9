package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *Logger {
	return NewLogger(io.Discard, "error", "json")
}

func TestInitGuard_ConcurrentCallersRunOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	g := NewInitGuard(func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}, InitGuardOptions{Wait: 5 * time.Second, Logger: quietLogger()})

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.EnsureInitialized(context.Background())
		}()
	}

	// Let every goroutine reach the guard before the attempt finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 init run, got %d", got)
	}
	if g.State() != StateReady {
		t.Fatalf("expected ready, got %s", g.State())
	}
}

func TestInitGuard_TwoSimultaneousCallsBothReady(t *testing.T) {
	var calls atomic.Int32
	g := NewInitGuard(func(ctx context.Context) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}, InitGuardOptions{Wait: time.Second, Logger: quietLogger()})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.EnsureInitialized(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Errorf("call %d: expected nil, got %v", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one schema batch, got %d", calls.Load())
	}
}

func TestInitGuard_ReadyIsNoOp(t *testing.T) {
	var calls atomic.Int32
	g := NewInitGuard(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, InitGuardOptions{Logger: quietLogger()})

	for i := 0; i < 5; i++ {
		if err := g.EnsureInitialized(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestInitGuard_FailureResetsForRetry(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("syntax error at or near CREATE")

	g := NewInitGuard(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return boom
		}
		return nil
	}, InitGuardOptions{Logger: quietLogger()})

	err := g.EnsureInitialized(context.Background())
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected *InitError, got %v", err)
	}
	if initErr.Attempt != 1 || !errors.Is(err, boom) {
		t.Fatalf("unexpected init error: %+v", initErr)
	}
	if g.State() != StateUninitialized {
		t.Fatalf("expected uninitialized after failure, got %s", g.State())
	}
	if g.LastError() == nil {
		t.Fatal("expected last error to be recorded")
	}

	if err := g.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if g.State() != StateReady || g.LastError() != nil {
		t.Fatalf("expected ready with no error, got %s / %v", g.State(), g.LastError())
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestInitGuard_TimeoutIsRetryableFailure(t *testing.T) {
	g := NewInitGuard(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, InitGuardOptions{Timeout: 20 * time.Millisecond, Logger: quietLogger()})

	err := g.EnsureInitialized(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if g.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", g.State())
	}
}

func TestInitGuard_IgnoredDeadlineStillFails(t *testing.T) {
	g := NewInitGuard(func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	}, InitGuardOptions{Timeout: 5 * time.Millisecond, Logger: quietLogger()})

	if err := g.EnsureInitialized(context.Background()); err == nil {
		t.Fatal("expected a timed-out attempt to fail")
	}
	if g.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", g.State())
	}
}

func TestInitGuard_RequestCancellationDoesNotAbortAttempt(t *testing.T) {
	g := NewInitGuard(func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return ctx.Err()
	}, InitGuardOptions{Timeout: time.Second, Wait: time.Second, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.EnsureInitialized(ctx); !errors.Is(err, ErrInitInProgress) {
		t.Fatalf("expected cancelled caller to stop waiting, got %v", err)
	}
	// The detached attempt finishes on its own.
	if err := g.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("expected detached attempt to succeed, got %v", err)
	}
	if g.State() != StateReady {
		t.Fatalf("expected ready, got %s", g.State())
	}
}

func TestInitGuard_StarterBoundedByItsContext(t *testing.T) {
	release := make(chan struct{})
	g := NewInitGuard(func(ctx context.Context) error {
		<-release
		return nil
	}, InitGuardOptions{Timeout: time.Minute, Logger: quietLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	begin := time.Now()
	if err := g.EnsureInitialized(ctx); !errors.Is(err, ErrInitInProgress) {
		t.Fatalf("expected ErrInitInProgress, got %v", err)
	}
	if time.Since(begin) > time.Second {
		t.Fatal("starting caller outlived its own deadline")
	}
	if g.State() != StateInitializing {
		t.Fatalf("expected attempt to keep running, got %s", g.State())
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for g.State() != StateReady {
		if time.Now().After(deadline) {
			t.Fatalf("attempt never completed, state %s", g.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitGuard_PanicIsRecovered(t *testing.T) {
	g := NewInitGuard(func(ctx context.Context) error {
		panic("nil map")
	}, InitGuardOptions{Logger: quietLogger()})

	var initErr *InitError
	if err := g.EnsureInitialized(context.Background()); !errors.As(err, &initErr) {
		t.Fatalf("expected *InitError, got %v", err)
	}
	if g.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", g.State())
	}
}

func TestInitGuard_FollowerStopsWaitingAfterBudget(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	var once sync.Once

	g := NewInitGuard(func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, InitGuardOptions{Wait: 10 * time.Millisecond, Logger: quietLogger()})

	go func() { _ = g.EnsureInitialized(context.Background()) }()
	<-started

	begin := time.Now()
	err := g.EnsureInitialized(context.Background())
	if !errors.Is(err, ErrInitInProgress) {
		t.Fatalf("expected ErrInitInProgress, got %v", err)
	}
	if time.Since(begin) > time.Second {
		t.Fatal("follower was blocked far beyond its wait budget")
	}
	if g.State() != StateInitializing {
		t.Fatalf("expected initializing, got %s", g.State())
	}
}

func TestInitGuard_FollowerSeesLeaderFailure(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	boom := errors.New("connection refused")
	var once sync.Once

	g := NewInitGuard(func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return boom
	}, InitGuardOptions{Wait: time.Second, Logger: quietLogger()})

	go func() { _ = g.EnsureInitialized(context.Background()) }()
	<-started

	result := make(chan error, 1)
	go func() { result <- g.EnsureInitialized(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	close(release)

	if err := <-result; !errors.Is(err, boom) {
		t.Fatalf("expected leader failure, got %v", err)
	}
}

func TestInitGuard_MiddlewareFailOpen(t *testing.T) {
	g := NewInitGuard(func(ctx context.Context) error {
		return errors.New("database is down")
	}, InitGuardOptions{Logger: quietLogger()})

	called := false
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if !called {
		t.Fatal("expected handler to run despite init failure")
	}
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestInitState_String(t *testing.T) {
	tests := map[InitState]string{
		StateUninitialized: "uninitialized",
		StateInitializing:  "initializing",
		StateReady:         "ready",
		InitState(9):       "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
