package store

import (
	"context"
	"fmt"
	"time"
)

// Compile-time checks for the dedup and pruning interfaces.
var (
	_ InboundDedup = (*PostgresStore)(nil)
	_ Pruner       = (*PostgresStore)(nil)
)

func (s *PostgresStore) ClaimInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, session_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
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

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneInbound(ctx context.Context, before time.Time) (int, error) {
	return s.prune(ctx, `DELETE FROM inbound_dedup WHERE received_at < $1`, before)
}

func (s *PostgresStore) PruneSentReplies(ctx context.Context, before time.Time) (int, error) {
	return s.prune(ctx, `DELETE FROM relay_outbox WHERE status = 'sent' AND updated_at < $1`, before)
}

func (s *PostgresStore) prune(ctx context.Context, query string, before time.Time) (int, error) {
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
