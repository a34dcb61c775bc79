package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/minanew12/eurodollar-protocol-sub001/core"
	"github.com/minanew12/eurodollar-protocol-sub001/observability"
	"github.com/minanew12/eurodollar-protocol-sub001/services/vaultd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	CertFile      string
	KeyFile       string
	RateLimit     RateLimit
}

// Server exposes the ledger over a JSON HTTP API.
type Server struct {
	cfg     Config
	ledger  *core.Ledger
	storage *storage.Storage
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

// New constructs a new HTTP server.
func New(cfg Config, ledger *core.Ledger, store *storage.Storage, auth *Authenticator, logger *slog.Logger) (*Server, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		ledger:  ledger,
		storage: store,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger.With("component", "http"),
	}, nil
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(reads chi.Router) {
			reads.Use(s.auth.Reads, s.limiter.Middleware("read"))
			reads.Get("/oracle", s.handleOracle)
			reads.Get("/oracle/submissions", s.handleSubmissions)
			reads.Get("/oracle/rounds/latest", s.handleLatestRound)
			reads.Get("/oracle/rounds/{proof}", s.handleRound)
			reads.Get("/vault", s.handleVault)
			reads.Get("/vault/limits/{account}", s.handleLimits)
			reads.Get("/vault/preview", s.handlePreview)
			reads.Get("/vault/receipts/{id}", s.handleReceipt)
			reads.Get("/tokens/{unit}/balances/{account}", s.handleBalance)
			reads.Get("/tokens/{unit}/supply", s.handleSupply)
			reads.Get("/tokens/{unit}/allowances/{owner}/{spender}", s.handleAllowance)
			reads.Get("/permissions/{unit}/{account}", s.handlePermissionStatus)
			reads.Get("/freeze/{unit}/{account}", s.handleFrozen)
			reads.Get("/pause/{unit}", s.handlePauseStatus)
			reads.Get("/roles/{role}", s.handleRoleMembers)
		})
		v1.Group(func(writes chi.Router) {
			writes.Use(s.auth.Required, s.limiter.Middleware("write"))
			writes.Post("/oracle/price", s.handleUpdatePrice)
			writes.Post("/oracle/admin/current", s.handleAdminCurrent)
			writes.Post("/oracle/admin/old", s.handleAdminOld)
			writes.Post("/oracle/admin/max-increase", s.handleMaxIncrease)
			writes.Post("/oracle/admin/delay", s.handleDelay)
			writes.Post("/vault/{op}", s.handleVaultOp)
			writes.Post("/tokens/{unit}/transfer", s.handleTransfer)
			writes.Post("/tokens/{unit}/transfer-from", s.handleTransferFrom)
			writes.Post("/tokens/{unit}/approve", s.handleApprove)
			writes.Post("/tokens/{unit}/mint", s.handleMint)
			writes.Post("/tokens/{unit}/burn", s.handleBurn)
			writes.Post("/permissions/{unit}/{action}", s.handlePermissions)
			writes.Post("/freeze/{unit}/{action}", s.handleFreeze)
			writes.Post("/pause/{unit}", s.handlePause)
			writes.Post("/unpause/{unit}", s.handleUnpause)
			writes.Post("/roles/{role}/{action}", s.handleRole)
		})
	})
	return otelhttp.NewHandler(r, "vaultd")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("address", s.cfg.ListenAddress), slog.Bool("tls", s.cfg.CertFile != ""))
	var err error
	if strings.TrimSpace(s.cfg.CertFile) != "" {
		err = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// observe records latency and outcome per route group.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.API().Observe(routeGroup(r), r.Method, status, time.Since(start))
	})
}

func routeGroup(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
