package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SlotChat/internal/flow"
	"github.com/BTreeMap/SlotChat/internal/models"
	"github.com/BTreeMap/SlotChat/internal/store"
)

// SessionPrefix is prepended to a canonical phone number to form its session id.
const SessionPrefix = "wa:"

// DefaultErrorReply is sent when a turn could not be completed.
const DefaultErrorReply = "Sorry, something went wrong on our side. Please send your message again."

// Advancer runs one chat turn.
type Advancer interface {
	Advance(ctx context.Context, req flow.TurnRequest) (flow.TurnResult, error)
}

// SessionIDFor returns the session id of a canonical phone number.
func SessionIDFor(canonicalPhone string) string {
	return SessionPrefix + canonicalPhone
}

// RelayOption configures a ChatRelay.
type RelayOption func(*ChatRelay)

// WithInboundDedup sets where inbound message ids are recorded.
// An in-memory dedup is used by default.
func WithInboundDedup(d store.InboundDedup) RelayOption {
	return func(r *ChatRelay) { r.dedup = d }
}

// WithReplyOutbox queues replies in o instead of sending them directly.
// A ReplySender must drain the outbox.
func WithReplyOutbox(o store.ReplyOutbox) RelayOption {
	return func(r *ChatRelay) { r.outbox = o }
}

// ChatRelay feeds inbound channel messages through the chat engine and sends
// the replies back to the participant.
type ChatRelay struct {
	svc    Service
	engine Advancer
	dedup  store.InboundDedup
	outbox store.ReplyOutbox
}

// NewChatRelay creates a relay between svc and engine.
func NewChatRelay(svc Service, engine Advancer, opts ...RelayOption) *ChatRelay {
	r := &ChatRelay{svc: svc, engine: engine}
	for _, opt := range opts {
		opt(r)
	}
	if r.dedup == nil {
		r.dedup = store.NewMemoryDedup(store.DefaultDedupLimit)
	}
	return r
}

// Start processes inbound messages until ctx is cancelled or the service's
// Responses channel closes.
func (r *ChatRelay) Start(ctx context.Context) {
	slog.Info("ChatRelay.Start: processing inbound messages", "channel", r.svc.Name())
	go func() {
		defer slog.Info("ChatRelay stopped", "channel", r.svc.Name())
		for {
			select {
			case resp, ok := <-r.svc.Responses():
				if !ok {
					slog.Debug("ChatRelay responses channel closed", "channel", r.svc.Name())
					return
				}
				if err := r.HandleInbound(ctx, resp); err != nil {
					slog.Error("ChatRelay failed to handle inbound message", "error", err, "from", resp.From)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// HandleInbound runs one participant message. A message that starts a new
// session gets the greeting first and is then taken as the answer to it.
func (r *ChatRelay) HandleInbound(ctx context.Context, resp models.Response) error {
	from, err := r.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	text := strings.TrimSpace(resp.Body)
	if text == "" {
		slog.Debug("ChatRelay.HandleInbound: ignoring empty message", "from", from)
		return nil
	}
	sessionID := SessionIDFor(from)

	if resp.ID != "" {
		claimed, err := r.dedup.ClaimInbound(ctx, resp.ID, sessionID)
		if err != nil {
			return fmt.Errorf("claim inbound message %s: %w", resp.ID, err)
		}
		if !claimed {
			slog.Info("ChatRelay.HandleInbound: duplicate message dropped", "messageID", resp.ID, "sessionID", sessionID)
			return nil
		}
	}
	slog.Debug("ChatRelay.HandleInbound: processing message", "sessionID", sessionID, "body_length", len(text))

	req := flow.TurnRequest{SessionID: sessionID, User: text}
	res, err := r.engine.Advance(ctx, req)
	if err != nil {
		return r.fail(ctx, sessionID, from, err)
	}
	if res.Greeting {
		if err := r.deliver(ctx, sessionID, from, res.Reply, dedupeKey(resp.ID, 0)); err != nil {
			return err
		}
		if res, err = r.engine.Advance(ctx, req); err != nil {
			return r.fail(ctx, sessionID, from, err)
		}
	}
	if err := r.deliver(ctx, sessionID, from, res.Reply, dedupeKey(resp.ID, 1)); err != nil {
		return err
	}

	if resp.ID != "" {
		if err := r.dedup.MarkProcessed(ctx, resp.ID); err != nil {
			slog.Warn("ChatRelay.HandleInbound: failed to mark message processed", "error", err, "messageID", resp.ID)
		}
	}
	return nil
}

// fail tells the participant the turn failed and returns the wrapped cause.
func (r *ChatRelay) fail(ctx context.Context, sessionID, to string, cause error) error {
	slog.Error("ChatRelay turn failed", "error", cause, "sessionID", sessionID)
	if err := r.svc.SendMessage(ctx, to, DefaultErrorReply); err != nil {
		slog.Error("ChatRelay failed to send error reply", "error", err, "sessionID", sessionID)
	}
	return fmt.Errorf("advance session %s: %w", sessionID, cause)
}

func (r *ChatRelay) deliver(ctx context.Context, sessionID, to, body, key string) error {
	if r.outbox == nil {
		if err := r.svc.SendMessage(ctx, to, body); err != nil {
			return fmt.Errorf("send reply for session %s: %w", sessionID, err)
		}
		return nil
	}
	id, err := r.outbox.EnqueueReply(ctx, store.RelayReply{
		SessionID: sessionID,
		Channel:   r.svc.Name(),
		To:        to,
		Body:      body,
		DedupeKey: key,
	})
	if err != nil {
		return fmt.Errorf("queue reply for session %s: %w", sessionID, err)
	}
	slog.Debug("ChatRelay reply queued", "id", id, "sessionID", sessionID)
	return nil
}

func dedupeKey(messageID string, n int) string {
	if messageID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", messageID, n)
}

// ChannelRouter delivers queued replies on the service named by each reply's channel.
type ChannelRouter map[string]Service

// Send implements store.ReplySendFunc.
func (cr ChannelRouter) Send(ctx context.Context, reply store.RelayReply) error {
	svc, ok := cr[reply.Channel]
	if !ok {
		return fmt.Errorf("no messaging service for channel %q", reply.Channel)
	}
	return svc.SendMessage(ctx, reply.To, reply.Body)
}
