// Package server is the HTTP API for Praetor's AI core: the assist endpoint,
// billing status, credential management, and health. CRUD screens for cases,
// clients, invoices, and contracts are served by the app tier, not here.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/praetor-ai/praetor/internal/assist"
	"github.com/praetor-ai/praetor/internal/auth"
	"github.com/praetor-ai/praetor/internal/model"
	"github.com/praetor-ai/praetor/internal/ratelimit"
	"github.com/praetor-ai/praetor/internal/search"
	"github.com/praetor-ai/praetor/internal/vault"
)

// Server is the Praetor HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Store is the persistence surface the HTTP handlers need.
// *storage.DB satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	GetBillingState(ctx context.Context, tenantID uuid.UUID) (model.TenantBillingState, error)
	CreateBillingState(ctx context.Context, s model.TenantBillingState) (model.TenantBillingState, error)
	RenewSubscription(ctx context.Context, tenantID uuid.UUID, plan model.Plan, validUntil time.Time) error
	ListLedgerEntries(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]model.UsageLedgerEntry, error)
	GetCredential(ctx context.Context, tenantID uuid.UUID) (model.CredentialRecord, error)
}

// Config holds all dependencies and settings for creating a Server.
type Config struct {
	DB        Store
	AuthMgr   *auth.Manager
	AssistSvc *assist.Service
	Vault     *vault.Vault
	Public    *search.PublicCorpus // nil when the public corpus is not configured
	Limiter   ratelimit.Limiter    // nil disables rate limiting
	Logger    *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}

	h := &handlers{
		db:      cfg.DB,
		assist:  cfg.AssistSvc,
		vault:   cfg.Vault,
		public:  cfg.Public,
		logger:  cfg.Logger,
		version: cfg.Version,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)

	authed := func(fn http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.AuthMgr, rateLimitMiddleware(limiter, cfg.Logger, fn))
	}
	mux.Handle("POST /v1/assist", authed(h.handleAssist))
	mux.Handle("GET /v1/billing", authed(h.handleBillingStatus))
	mux.Handle("GET /v1/billing/ledger", authed(h.handleLedger))
	mux.Handle("GET /v1/credentials", authed(h.handleGetCredential))
	mux.Handle("PUT /v1/credentials", authed(h.handleUpsertCredential))
	mux.Handle("DELETE /v1/credentials", authed(h.handleDeleteCredential))

	// Provisioning routes for the app tier's service token (role "admin"):
	// firm signup and subscription renewal webhooks land here.
	mux.Handle("POST /v1/admin/tenants", authed(h.handleProvisionTenant))
	mux.Handle("POST /v1/admin/tenants/{tenant_id}/renew", authed(h.handleRenewSubscription))

	var root http.Handler = mux
	root = maxBytesMiddleware(cfg.MaxRequestBodyBytes, root)
	root = loggingMiddleware(cfg.Logger, root)
	root = requestIDMiddleware(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: root,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("server: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
