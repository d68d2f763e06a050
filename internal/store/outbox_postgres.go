package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/SlotChat/internal/util"
)

// Compile-time check that PostgresStore implements ReplyOutbox.
var _ ReplyOutbox = (*PostgresStore)(nil)

func (s *PostgresStore) EnqueueReply(ctx context.Context, r RelayReply) (string, error) {
	if r.DedupeKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM relay_outbox WHERE dedupe_key = $1 AND status IN ('queued', 'sending')`,
			r.DedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("PostgresStore.EnqueueReply: dedupe hit", "dedupeKey", r.DedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	id := util.GenerateRandomID("reply_")
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_outbox (id, session_id, channel, recipient, body, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6, $7, $8)`,
		id, r.SessionID, r.Channel, r.To, r.Body, nilIfEmpty(r.DedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue reply failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueReply", "id", id, "sessionID", r.SessionID, "channel", r.Channel)
	return id, nil
}

func (s *PostgresStore) ClaimDueReplies(ctx context.Context, now time.Time, limit int) ([]RelayReply, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE relay_outbox SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM relay_outbox WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		   ORDER BY created_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+relayReplyColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due replies failed: %w", err)
	}
	return scanRelayReplies(rows)
}

func (s *PostgresStore) MarkReplySent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE relay_outbox SET status = 'sent', locked_at = NULL, updated_at = $1 WHERE id = $2`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark reply sent failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailReply(ctx context.Context, id, errMsg string, nextAttemptAt time.Time, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE relay_outbox
		 SET attempts = attempts + 1,
		     status = CASE WHEN attempts + 1 >= $1 THEN 'failed' ELSE 'queued' END,
		     last_error = $2, next_attempt_at = $3, locked_at = NULL, updated_at = $4
		 WHERE id = $5`,
		maxAttempts, errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail reply failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleReplies(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE relay_outbox SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'sending' AND locked_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale replies failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleReplies", "requeued", n)
	}
	return int(n), nil
}
