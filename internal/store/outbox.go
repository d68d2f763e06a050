package store

import (
	"context"
	"time"
)

// ReplyStatus is the delivery state of a queued relay reply.
type ReplyStatus string

const (
	ReplyStatusQueued  ReplyStatus = "queued"
	ReplyStatusSending ReplyStatus = "sending"
	ReplyStatusSent    ReplyStatus = "sent"
	ReplyStatusFailed  ReplyStatus = "failed"
)

// DefaultMaxReplyAttempts is the number of failed sends after which a reply
// is parked as failed.
const DefaultMaxReplyAttempts = 5

// RelayReply is a chat reply waiting to be delivered on a messaging channel.
type RelayReply struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id"`
	Channel       string      `json:"channel"`
	To            string      `json:"to"`
	Body          string      `json:"body"`
	Status        ReplyStatus `json:"status"`
	Attempts      int         `json:"attempts"`
	NextAttemptAt *time.Time  `json:"next_attempt_at"`
	DedupeKey     string      `json:"dedupe_key"`
	LockedAt      *time.Time  `json:"locked_at"`
	LastError     string      `json:"last_error"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ReplyOutbox persists relay replies so they survive channel outages and restarts.
type ReplyOutbox interface {
	// EnqueueReply queues r. If r.DedupeKey is set and an unsent reply with
	// that key exists, the existing id is returned instead.
	EnqueueReply(ctx context.Context, r RelayReply) (string, error)
	// ClaimDueReplies marks up to limit due queued replies as sending and returns them.
	ClaimDueReplies(ctx context.Context, now time.Time, limit int) ([]RelayReply, error)
	// MarkReplySent records a successful delivery.
	MarkReplySent(ctx context.Context, id string) error
	// FailReply records a failed send. The reply is retried at nextAttemptAt,
	// or parked as failed once it has been attempted maxAttempts times.
	FailReply(ctx context.Context, id, errMsg string, nextAttemptAt time.Time, maxAttempts int) error
	// RequeueStaleReplies returns replies stuck in sending since before
	// staleBefore to the queue.
	RequeueStaleReplies(ctx context.Context, staleBefore time.Time) (int, error)
}
