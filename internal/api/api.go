// Package api provides the HTTP server for AssessPipe.
//
// It exposes the assessment, chat, pricing and lead endpoints of one
// application profile, plus health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/assessment"
	"github.com/BTreeMap/AssessPipe/internal/metrics"
	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/BTreeMap/AssessPipe/internal/pricing"
	"github.com/BTreeMap/AssessPipe/internal/store"
)

// Server defaults.
const (
	DefaultAddr          = ":8080"
	DefaultWriteTimeout  = assessment.DefaultTimeout + 15*time.Second
	readHeaderTimeout    = 10 * time.Second
	readTimeout          = 30 * time.Second
	idleTimeout          = 120 * time.Second
	shutdownTimeout      = 10 * time.Second
	maxRequestBodyBytes  = 1 << 20
	missingAPIKeyMessage = "OpenAI API key not configured"
)

// LeadNotifier is told about every lead after it is stored.
type LeadNotifier interface {
	Notify(ctx context.Context, lead models.Lead) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr         string
	WriteTimeout time.Duration
	Catalog      *pricing.Catalog
	Leads        store.LeadRepo
	LeadsToken   string
	Notifier     LeadNotifier
	Metrics      *metrics.Metrics
	Version      string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWriteTimeout sets the HTTP write timeout. It must outlast the generation timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Opts) { o.WriteTimeout = d }
}

// WithCatalog enables the pricing endpoints.
func WithCatalog(c *pricing.Catalog) Option {
	return func(o *Opts) { o.Catalog = c }
}

// WithLeadRepo enables lead recording and the leads endpoint.
func WithLeadRepo(r store.LeadRepo) Option {
	return func(o *Opts) { o.Leads = r }
}

// WithLeadsToken mounts GET /api/leads behind a bearer token. The endpoint is
// not served when the token is empty.
func WithLeadsToken(token string) Option {
	return func(o *Opts) { o.LeadsToken = token }
}

// WithNotifier sets the notifier called after each stored lead.
func WithNotifier(n LeadNotifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithMetrics sets the metrics collectors. A private set is created when unset.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(o *Opts) { o.Version = v }
}

// Server serves one assessment profile over HTTP.
type Server struct {
	addr         string
	writeTimeout time.Duration
	svc          *assessment.Service
	catalog      *pricing.Catalog
	leads        store.LeadRepo
	leadsToken   string
	notifier     LeadNotifier
	metrics      *metrics.Metrics
	version      string
	now          func() time.Time
}

// NewServer creates a server for svc.
func NewServer(svc *assessment.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, WriteTimeout: DefaultWriteTimeout, Version: "dev"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Server{
		addr:         cfg.Addr,
		writeTimeout: cfg.WriteTimeout,
		svc:          svc,
		catalog:      cfg.Catalog,
		leads:        cfg.Leads,
		leadsToken:   cfg.LeadsToken,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		version:      cfg.Version,
		now:          time.Now,
	}
}

// Handler returns the routed handler for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/assessment", s.assessmentHandler)
	mux.HandleFunc("/api/chat", s.chatHandler)
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/pricing/quote", s.quoteHandler)
	mux.HandleFunc("/api/pricing/proposal", s.proposalHandler)
	if s.leadsToken != "" {
		mux.HandleFunc("/api/leads", s.requireToken(s.leadsToken, s.leadsHandler))
	}
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr, "profile", s.svc.Profile().Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			slog.Error("Server.Run: listener failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	slog.Info("Server.Run: API server stopped")
	return nil
}

// recordLead stores lead and notifies about it. Failures are logged only.
func (s *Server) recordLead(ctx context.Context, lead models.Lead) {
	if s.leads == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	stored, err := s.leads.AddLead(ctx, lead)
	if err != nil {
		slog.Error("Server.recordLead: failed to store lead", "kind", lead.Kind, "error", err)
		return
	}
	s.metrics.ObserveLead(string(stored.Kind))
	slog.Info("Server.recordLead: lead recorded", "id", stored.ID, "kind", stored.Kind, "profile", stored.Profile)

	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, stored); err != nil {
		slog.Error("Server.recordLead: failed to notify about lead", "id", stored.ID, "error", err)
	}
}
