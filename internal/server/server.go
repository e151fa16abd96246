package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/db"
	"github.com/jjudge-oj/authserver/internal/events"
	"github.com/jjudge-oj/authserver/internal/handlers"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         *mq.MQ
	logger     *logging.SlogLogger
	closeOnce  sync.Once
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Log.Format, cfg.Log.Level, os.Stdout)
	logger.Info(ctx, "starting auth server",
		"port", cfg.ServerPort,
		"store", cfg.StoreBackend,
		"events", cfg.Events.Backend,
		"auth", cfg.Auth,
	)

	s := &Server{logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.closeDependencies()
		}
	}()

	credentials, err := s.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := s.openPublisher(ctx, cfg.Events)
	if err != nil {
		return nil, err
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.HashAlgorithm, cfg.Auth.HashCost)
	if err != nil {
		return nil, err
	}
	algorithm, err := auth.ParseAlgorithm(cfg.Auth.JWTAlgorithm)
	if err != nil {
		return nil, err
	}
	codec, err := auth.NewTokenCodec(cfg.Auth.JWTSecret, algorithm)
	if err != nil {
		return nil, err
	}

	authService, err := auth.NewService(credentials, hasher, codec, publisher, logger, auth.Options{
		TokenTTL:          cfg.Auth.TokenTTL,
		HashWorkers:       cfg.Auth.HashWorkers,
		PasswordMinLength: cfg.Auth.PasswordMinLength,
	})
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Get("/readyz", handlers.Readyz(s.ping))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, logger)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ok = true
	return s, nil
}

func (s *Server) openStore(ctx context.Context, cfg config.Config) (auth.CredentialStore, error) {
	switch cfg.StoreBackend {
	case "memory":
		s.logger.Warn(ctx, "using in-memory credential store; accounts are lost on restart")
		return store.NewMemoryUserRepository(), nil
	default:
		dbConn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s.db = dbConn
		return store.NewUserRepository(dbConn), nil
	}
}

func (s *Server) openPublisher(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	broker, err := mq.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open events backend: %w", err)
	}
	if broker == nil {
		return events.Nop{}, nil
	}
	s.mq = broker
	return events.NewBrokerPublisher(broker, cfg.Channel), nil
}

func (s *Server) ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.closeDependencies()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the database and broker connections.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info(ctx, "shutting down")
	err := s.httpServer.Shutdown(ctx)
	s.closeDependencies()
	return err
}

func (s *Server) closeDependencies() {
	s.closeOnce.Do(func() {
		if s.mq != nil {
			if err := s.mq.Close(); err != nil {
				s.logger.Warn(context.Background(), "close events backend", "error", err)
			}
		}
		if s.db != nil {
			_ = s.db.Close()
		}
	})
}
