// Package store provides storage backends for SlotChat.
//
// This file implements an SQLite-backed session store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/SlotChat/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements SessionStore.
var _ SessionStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return unmarshalSnapshot(id, data)
}

func (s *SQLiteStore) Create(ctx context.Context, sess *models.Session) error {
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
		`INSERT OR IGNORE INTO sessions (id, condition_id, done, crisis, slot_index, turn_count, snapshot_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ConditionID, sess.Done, sess.Crisis, sess.SlotIndex, len(sess.History), string(data), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore Create failed", "error", err, "sessionID", sess.ID)
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
	slog.Debug("SQLiteStore Create succeeded", "sessionID", sess.ID)
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, sess *models.Session) error {
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
	err = tx.QueryRowContext(ctx, `SELECT turn_count FROM sessions WHERE id = ?`, sess.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read session %s: %w", sess.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET condition_id = ?, done = ?, crisis = ?, slot_index = ?, turn_count = ?, snapshot_json = ?, updated_at = ?
		 WHERE id = ?`,
		sess.ConditionID, sess.Done, sess.Crisis, sess.SlotIndex, len(sess.History), string(data), sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		slog.Error("SQLiteStore Update failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
	}
	if err := s.insertTurns(ctx, tx, sess, stored); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore Update succeeded", "sessionID", sess.ID, "turns", len(sess.History))
	return nil
}

func (s *SQLiteStore) insertTurns(ctx context.Context, tx *sql.Tx, sess *models.Session, stored int) error {
	for i, t := range newTurns(sess, stored) {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO turns (session_id, seq, role, slot_id, text, ts) VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, stored+i, string(t.Role), nullableSlot(t.SlotID), t.Text, t.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert turn %d of session %s: %w", stored+i, sess.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, condition_id, done, crisis, slot_index, turn_count, updated_at FROM sessions ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		slog.Error("SQLiteStore List query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// Turns reads the append-only turn log of a session.
func (s *SQLiteStore) Turns(ctx context.Context, id string) ([]models.Turn, error) {
	return queryTurns(ctx, s.db,
		`SELECT role, slot_id, text, ts FROM turns WHERE session_id = ? ORDER BY seq`,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, id)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

