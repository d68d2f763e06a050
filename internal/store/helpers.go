package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/SlotChat/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableSlot maps a turn's slot id to a nullable column value.
func nullableSlot(slot *int) interface{} {
	if slot == nil {
		return nil
	}
	return int64(*slot)
}

func marshalSnapshot(sess *models.Session) ([]byte, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}
	return data, nil
}

func unmarshalSnapshot(id string, data []byte) (*models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	if sess.History == nil {
		sess.History = []models.Turn{}
	}
	return &sess, nil
}

// newTurns returns the turns of sess not yet written, given the stored count.
func newTurns(sess *models.Session, stored int) []models.Turn {
	if stored >= len(sess.History) {
		return nil
	}
	return sess.History[stored:]
}

// queryTurns reads a session's turn log. countQuery must select the number of
// sessions with the id, so an unknown id maps to ErrSessionNotFound.
func queryTurns(ctx context.Context, db *sql.DB, turnsQuery, countQuery, id string) ([]models.Turn, error) {
	rows, err := db.QueryContext(ctx, turnsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns of session %s: %w", id, err)
	}
	defer rows.Close()

	out := []models.Turn{}
	for rows.Next() {
		var t models.Turn
		var role string
		var slot sql.NullInt64
		if err := rows.Scan(&role, &slot, &t.Text, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn of session %s: %w", id, err)
		}
		t.Role = models.Role(role)
		if slot.Valid {
			t.SlotID = models.SlotPtr(int(slot.Int64))
		}
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns of session %s: %w", id, err)
	}
	if len(out) > 0 {
		return out, nil
	}

	var n int
	if err := db.QueryRowContext(ctx, countQuery, id).Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to look up session %s: %w", id, err)
	}
	if n == 0 {
		return nil, ErrSessionNotFound
	}
	return out, nil
}

func scanSummaries(rows *sql.Rows) ([]models.SessionSummary, error) {
	var out []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.ConditionID, &sum.Done, &sum.Crisis, &sum.SlotIndex, &sum.Turns, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	if out == nil {
		out = []models.SessionSummary{}
	}
	return out, nil
}

const relayReplyColumns = `id, session_id, channel, recipient, body, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// scanRelayReplies scans and closes rows selected with relayReplyColumns.
func scanRelayReplies(rows *sql.Rows) ([]RelayReply, error) {
	defer rows.Close()
	var out []RelayReply
	for rows.Next() {
		var r RelayReply
		var dedupeKey, lastError sql.NullString
		var nextAttemptAt, lockedAt sql.NullTime
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.Channel, &r.To, &r.Body, &r.Status, &r.Attempts,
			&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan relay reply failed: %w", err)
		}
		r.DedupeKey = dedupeKey.String
		r.LastError = lastError.String
		if nextAttemptAt.Valid {
			t := nextAttemptAt.Time
			r.NextAttemptAt = &t
		}
		if lockedAt.Valid {
			t := lockedAt.Time
			r.LockedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relay reply iteration failed: %w", err)
	}
	return out, nil
}
