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

// Compile-time check that SQLiteStore implements ReplyOutbox.
var _ ReplyOutbox = (*SQLiteStore)(nil)

func (s *SQLiteStore) EnqueueReply(ctx context.Context, r RelayReply) (string, error) {
	if r.DedupeKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM relay_outbox WHERE dedupe_key = ? AND status IN ('queued', 'sending')`,
			r.DedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("SQLiteStore.EnqueueReply: dedupe hit", "dedupeKey", r.DedupeKey, "existingID", existingID)
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
		 VALUES (?, ?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, r.SessionID, r.Channel, r.To, r.Body, nilIfEmpty(r.DedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue reply failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueReply", "id", id, "sessionID", r.SessionID, "channel", r.Channel)
	return id, nil
}

func (s *SQLiteStore) ClaimDueReplies(ctx context.Context, now time.Time, limit int) ([]RelayReply, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+relayReplyColumns+` FROM relay_outbox
		 WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due replies failed: %w", err)
	}
	replies, err := scanRelayReplies(rows)
	if err != nil {
		return nil, err
	}

	for i := range replies {
		_, err := tx.ExecContext(ctx,
			`UPDATE relay_outbox SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, replies[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark reply sending failed: %w", err)
		}
		replies[i].Status = ReplyStatusSending
		lockedAt := now
		replies[i].LockedAt = &lockedAt
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claimed replies failed: %w", err)
	}
	return replies, nil
}

func (s *SQLiteStore) MarkReplySent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE relay_outbox SET status = 'sent', locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark reply sent failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailReply(ctx context.Context, id, errMsg string, nextAttemptAt time.Time, maxAttempts int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE relay_outbox
		 SET attempts = attempts + 1,
		     status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'queued' END,
		     last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ?
		 WHERE id = ?`,
		maxAttempts, errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail reply failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleReplies(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE relay_outbox SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale replies failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleReplies", "requeued", n)
	}
	return int(n), nil
}
