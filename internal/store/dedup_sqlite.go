package store

import (
	"context"
	"fmt"
	"time"
)

// Compile-time checks for the dedup and pruning interfaces.
var (
	_ InboundDedup = (*SQLiteStore)(nil)
	_ Pruner       = (*SQLiteStore)(nil)
)

func (s *SQLiteStore) ClaimInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (message_id, session_id, received_at) VALUES (?, ?, ?)`,
		messageID, sessionID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneInbound(ctx context.Context, before time.Time) (int, error) {
	return s.prune(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, before)
}

func (s *SQLiteStore) PruneSentReplies(ctx context.Context, before time.Time) (int, error) {
	return s.prune(ctx, `DELETE FROM relay_outbox WHERE status = 'sent' AND updated_at < ?`, before)
}

func (s *SQLiteStore) prune(ctx context.Context, query string, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected check failed: %w", err)
	}
	return int(n), nil
}
