// Package store provides storage backends for SlotChat.
//
// This file implements a PostgreSQL-backed session store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SlotChat/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements SessionStore.
var _ SessionStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM sessions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return unmarshalSnapshot(id, data)
}

func (s *PostgresStore) Create(ctx context.Context, sess *models.Session) error {
	data, err := marshalSnapshot(sess)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, condition_id, done, crisis, slot_index, turn_count, snapshot_json, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.ConditionID, sess.Done, sess.Crisis, sess.SlotIndex, len(sess.History), string(data), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore Create failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionExists
	}
	if err := s.insertTurns(ctx, tx, sess, 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore Create succeeded", "sessionID", sess.ID)
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, sess *models.Session) error {
	data, err := marshalSnapshot(sess)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stored int
	err = tx.QueryRowContext(ctx, `SELECT turn_count FROM sessions WHERE id = $1 FOR UPDATE`, sess.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read session %s: %w", sess.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET condition_id = $1, done = $2, crisis = $3, slot_index = $4, turn_count = $5, snapshot_json = $6, updated_at = $7
		 WHERE id = $8`,
		sess.ConditionID, sess.Done, sess.Crisis, sess.SlotIndex, len(sess.History), string(data), sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		slog.Error("PostgresStore Update failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
	}
	if err := s.insertTurns(ctx, tx, sess, stored); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore Update succeeded", "sessionID", sess.ID, "turns", len(sess.History))
	return nil
}

func (s *PostgresStore) insertTurns(ctx context.Context, tx *sql.Tx, sess *models.Session, stored int) error {
	for i, t := range newTurns(sess, stored) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, seq, role, slot_id, text, ts) VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, seq) DO NOTHING`,
			sess.ID, stored+i, string(t.Role), nullableSlot(t.SlotID), t.Text, t.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert turn %d of session %s: %w", stored+i, sess.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, condition_id, done, crisis, slot_index, turn_count, updated_at FROM sessions ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		slog.Error("PostgresStore List query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// Turns reads the append-only turn log of a session.
func (s *PostgresStore) Turns(ctx context.Context, id string) ([]models.Turn, error) {
	return queryTurns(ctx, s.db,
		`SELECT role, slot_id, text, ts FROM turns WHERE session_id = $1 ORDER BY seq`,
		`SELECT COUNT(*) FROM sessions WHERE id = $1`, id)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
