package server

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

// Config carries the dependencies of a Server. DB, Auth, Assets and
// Guard are required.
type Config struct {
	Addr  string // e.g. ":8080"
	Build BuildInfo

	DB     *sql.DB
	Auth   *Authenticator
	Assets *AssetServer
	Guard  *InitGuard
	Logger *Logger

	CookieSecure   bool
	MaxUploadBytes int64
	LoginRate      float64
	LoginBurst     int
	RequestTimeout time.Duration

	// TrustProxyHeaders takes the client IP from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

type Server struct {
	cfg        Config
	log        *Logger
	limiter    *rateLimiter
	lockout    *AccountLockout
	handler    http.Handler
	httpServer *http.Server

	// sweepCtx ends on Shutdown and stops the background sweepers.
	sweepCtx context.Context
	stop     context.CancelFunc
}

func New(cfg Config) (*Server, error) {
	switch {
	case cfg.DB == nil:
		return nil, errors.New("server: DB is required")
	case cfg.Auth == nil:
		return nil, errors.New("server: Auth is required")
	case cfg.Assets == nil:
		return nil, errors.New("server: Assets is required")
	case cfg.Guard == nil:
		return nil, errors.New("server: Guard is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.LoginRate <= 0 {
		cfg.LoginRate = 1
	}
	if cfg.LoginBurst <= 0 {
		cfg.LoginBurst = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	sweepCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		limiter:  newRateLimiter(cfg.LoginRate, cfg.LoginBurst),
		lockout:  NewAccountLockout(5, 15*time.Minute, 10*time.Minute),
		sweepCtx: sweepCtx,
		stop:     stop,
	}
	s.handler = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// [realIP] -> requestID -> logging -> metrics -> security headers -> recover -> timeout
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))
	r.Use(metricsMiddleware)
	r.Use(securityHeadersMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/live", handleLive)
	r.Method(http.MethodGet, "/metrics", MetricsHandler())

	r.Method(http.MethodGet, assetPrefix+"*", s.cfg.Assets)
	r.Method(http.MethodHead, assetPrefix+"*", s.cfg.Assets)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.cfg.Guard.Middleware)

		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.With(s.limiter.middleware).Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.With(s.cfg.Auth.requireAuth).Get("/me", s.handleMe)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.cfg.Auth.requireAuth, requireAdmin)
			r.Post("/chapters/{chapterID}/pages", s.handlePageUpload)
		})
	})

	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on cfg.Addr and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln and runs the limiter and lockout sweepers.
func (s *Server) Serve(ln net.Listener) error {
	go s.limiter.run(s.sweepCtx)
	go s.lockout.Run(s.sweepCtx, time.Minute)

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	return s.httpServer.Shutdown(ctx)
}
