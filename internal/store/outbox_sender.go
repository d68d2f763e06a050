package store

import (
	"context"
	"log/slog"
	"time"
)

// ReplySendFunc delivers one reply on its channel.
type ReplySendFunc func(ctx context.Context, r RelayReply) error

// Defaults for ReplySender.
const (
	DefaultReplyPollInterval   = 2 * time.Second
	DefaultReplyStaleThreshold = 5 * time.Minute
	DefaultReplyClaimLimit     = 10
	DefaultReplyBaseBackoff    = 10 * time.Second
)

// ReplySender periodically claims due relay replies and delivers them.
type ReplySender struct {
	repo           ReplyOutbox
	send           ReplySendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	baseBackoff    time.Duration
}

// SenderOption configures a ReplySender.
type SenderOption func(*ReplySender)

// WithPollInterval sets how often the outbox is polled.
func WithPollInterval(d time.Duration) SenderOption {
	return func(s *ReplySender) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithMaxAttempts sets the attempts after which a reply is parked as failed.
func WithMaxAttempts(n int) SenderOption {
	return func(s *ReplySender) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseBackoff sets the first retry delay; it doubles with every attempt.
func WithBaseBackoff(d time.Duration) SenderOption {
	return func(s *ReplySender) {
		if d > 0 {
			s.baseBackoff = d
		}
	}
}

// NewReplySender creates a ReplySender over repo.
func NewReplySender(repo ReplyOutbox, send ReplySendFunc, opts ...SenderOption) *ReplySender {
	s := &ReplySender{
		repo:           repo,
		send:           send,
		pollInterval:   DefaultReplyPollInterval,
		staleThreshold: DefaultReplyStaleThreshold,
		claimLimit:     DefaultReplyClaimLimit,
		maxAttempts:    DefaultMaxReplyAttempts,
		baseBackoff:    DefaultReplyBaseBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecoverStale requeues replies left in sending by a previous process.
// Call it at startup before Run; the maintenance scheduler repeats it.
func (s *ReplySender) RecoverStale(ctx context.Context) error {
	n, err := s.repo.RequeueStaleReplies(ctx, time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("ReplySender.RecoverStale: requeued stale replies", "count", n)
	}
	return nil
}

// Run polls the outbox until ctx is cancelled.
func (s *ReplySender) Run(ctx context.Context) {
	slog.Info("ReplySender.Run: starting", "pollInterval", s.pollInterval)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ReplySender.Run: stopping")
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush delivers every reply that is due now and returns how many were sent.
func (s *ReplySender) Flush(ctx context.Context) int {
	now := time.Now()
	replies, err := s.repo.ClaimDueReplies(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("ReplySender.Flush: claim failed", "error", err)
		return 0
	}

	sent := 0
	for _, r := range replies {
		if err := s.send(ctx, r); err != nil {
			next := now.Add(s.backoff(r.Attempts))
			slog.Warn("ReplySender.Flush: send failed", "id", r.ID, "sessionID", r.SessionID, "attempt", r.Attempts+1, "error", err)
			if err := s.repo.FailReply(ctx, r.ID, err.Error(), next, s.maxAttempts); err != nil {
				slog.Error("ReplySender.Flush: record failure", "id", r.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkReplySent(ctx, r.ID); err != nil {
			slog.Error("ReplySender.Flush: mark sent", "id", r.ID, "error", err)
			continue
		}
		sent++
		slog.Debug("ReplySender.Flush: reply sent", "id", r.ID, "sessionID", r.SessionID, "channel", r.Channel)
	}
	return sent
}

// backoff returns baseBackoff * 2^attempts, capped at one hour.
func (s *ReplySender) backoff(attempts int) time.Duration {
	if attempts > 10 {
		attempts = 10
	}
	d := s.baseBackoff << attempts
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
