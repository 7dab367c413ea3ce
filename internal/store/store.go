// Package store provides storage backends for AssessPipe.
//
// It records lead summaries and the notification outbox that delivers them.
// Backends: in-memory when no DSN is given, SQLite, and PostgreSQL, selected by DSN.
// The serve command passes a SQLite path in its state directory unless told otherwise.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AssessPipe/internal/models"
	"github.com/google/uuid"
)

// DefaultListLimit caps ListLeads when the caller passes a non-positive limit.
const DefaultListLimit = 100

// ErrDSNNotSet is returned when a database-backed store is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// LeadRepo persists lead summaries.
type LeadRepo interface {
	// AddLead stores a lead. Empty ID and zero CreatedAt are filled in.
	AddLead(ctx context.Context, lead models.Lead) (models.Lead, error)
	// ListLeads returns the most recent leads, newest first.
	ListLeads(ctx context.Context, limit int) ([]models.Lead, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	LeadRepo
	NotificationRepo
	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	DSN  string
	Type string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithPostgresDSN selects the PostgreSQL backend.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "postgres"
	}
}

// WithSQLiteDSN selects the SQLite backend. The DSN is a file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = "sqlite3"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// New returns the backend selected by opts, or an in-memory store when no DSN is set.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Debug("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	case cfg.Type == "postgres":
		s, err := NewPostgresStore(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case cfg.Type == "sqlite3":
		s, err := NewSQLiteStore(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// prepareLead fills the generated fields of a lead before insertion.
func prepareLead(lead models.Lead) models.Lead {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	return lead
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// InMemoryStore keeps leads and notifications in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	leads         []models.Lead
	notifications map[string]*Notification
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{notifications: make(map[string]*Notification)}
}

func (s *InMemoryStore) AddLead(ctx context.Context, lead models.Lead) (models.Lead, error) {
	lead = prepareLead(lead)
	lead.Recommendations = append([]string(nil), lead.Recommendations...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, lead)
	slog.Debug("InMemoryStore.AddLead: lead stored", "id", lead.ID, "kind", lead.Kind)
	return lead, nil
}

func (s *InMemoryStore) ListLeads(ctx context.Context, limit int) ([]models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Lead, len(s.leads))
	copy(out, s.leads)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
