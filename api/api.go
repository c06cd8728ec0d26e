package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/daemon"
	"github.com/papercomputeco/memsync/pkg/replication/transport/direct"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

// Store is what the API serves from: the replication surface of the local
// store plus read access to records.
type Store interface {
	direct.Store
	Get(ctx context.Context, id string) (*memory.Record, error)
	Search(ctx context.Context, query string, limit int) ([]*memory.Record, error)
	Stats(ctx context.Context) (*memory.Stats, error)
	ReplicationStats(ctx context.Context) (*sqlite.ReplicationStats, error)
}

// StatusProvider reports the state of a running daemon.
type StatusProvider interface {
	Status() daemon.Status
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithDaemon reports the daemon's state on /healthz.
func WithDaemon(d StatusProvider) Option {
	return func(s *Server) {
		s.daemon = d
	}
}

// WithMCP mounts an MCP handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) {
		s.mcp = h
	}
}

// Server is the peer API server.
type Server struct {
	config Config
	store  Store
	peer   replication.Remote
	daemon StatusProvider
	mcp    http.Handler
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server over store.
func NewServer(config Config, store Store, logger *slog.Logger, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		store:  store,
		peer:   direct.New(store),
		logger: logger.With("component", "api"),
		app:    app,
	}
	for _, opt := range opts {
		opt(s)
	}

	app.Get("/ping", s.handlePing)
	app.Get("/healthz", s.handleHealth)

	v1 := app.Group("/v1", s.requireToken)

	repl := v1.Group("/replication")
	repl.Get("/probe", s.handleProbe)
	repl.Get("/pending", s.handlePending)
	repl.Get("/record", s.handleRecord)
	repl.Post("/apply", s.handleApply)
	repl.Post("/ack", s.handleAck)

	memories := v1.Group("/memories")
	memories.Get("/stats", s.handleStats)
	memories.Get("/search", s.handleSearch)
	memories.Get("/:id", s.handleGetMemory)

	if s.mcp != nil {
		app.All("/mcp", s.requireToken, adaptor.HTTPHandler(s.mcp))
	}

	return s, nil
}

// App exposes the underlying fiber app, for tests and in-process clients.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
		"tls", s.config.TLS(),
		"auth", s.config.Token != "",
	)
	if s.config.TLS() {
		return s.app.ListenTLS(s.config.ListenAddr, s.config.TLSCertFile, s.config.TLSKeyFile)
	}
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// requireToken rejects requests without the configured bearer token.
func (s *Server) requireToken(c *fiber.Ctx) error {
	if s.config.Token == "" {
		return c.Next()
	}

	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) != 1 {
		s.logger.Warn("rejected unauthenticated request", "path", c.Path(), "remote", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "unauthorized"})
	}
	return c.Next()
}
