// Package store provides storage backends for SlotChat sessions.
//
// Sessions are kept in memory by default. The SQLite and PostgreSQL backends
// persist a JSON snapshot per session plus an append-only turns table, and
// also carry the inbound dedup and outbound relay outbox tables used by the
// messaging channels.
package store

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/SlotChat/internal/models"
)

// Sentinel errors returned by every SessionStore implementation.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// SessionStore persists chat sessions. Implementations return copies, so
// callers may mutate a fetched session freely until they call Update.
type SessionStore interface {
	// Get returns the session with the given id or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*models.Session, error)
	// Create inserts a new session. It returns ErrSessionExists if the id is taken.
	Create(ctx context.Context, s *models.Session) error
	// Update replaces the stored session. Turns already stored are never rewritten.
	Update(ctx context.Context, s *models.Session) error
	// List returns a summary of every stored session, most recently updated first.
	List(ctx context.Context) ([]models.SessionSummary, error)
	// Turns returns the session's turn log in order, or ErrSessionNotFound.
	Turns(ctx context.Context, id string) ([]models.Turn, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for the SQL-backed stores.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for the SQL-backed stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

var keyValueDSNRe = regexp.MustCompile(`(^|\s)(host|user|dbname|password|sslmode|port)=`)

// DetectDSNType returns "postgres" for PostgreSQL URLs and key=value
// connection strings, and "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if keyValueDSNRe.MatchString(d) {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps sessions in a map. It is the default backend and loses
// all data on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// Compile-time check that InMemoryStore implements SessionStore.
var _ SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemoryStore) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]models.SessionSummary, error) {
	s.mu.RLock()
	out := make([]models.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Summary())
	}
	s.mu.RUnlock()
	sortSummaries(out)
	return out, nil
}

func (s *InMemoryStore) Turns(_ context.Context, id string) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone().History, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func sortSummaries(out []models.SessionSummary) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
}
