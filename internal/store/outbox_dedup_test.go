package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSQLiteStore_InboundDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	first, err := s.ClaimInbound(ctx, "wamid.1", "wa:15551234567")
	if err != nil {
		t.Fatalf("ClaimInbound failed: %v", err)
	}
	if !first {
		t.Error("first ClaimInbound = false, want true")
	}
	again, err := s.ClaimInbound(ctx, "wamid.1", "wa:15551234567")
	if err != nil {
		t.Fatalf("second ClaimInbound failed: %v", err)
	}
	if again {
		t.Error("duplicate ClaimInbound = true, want false")
	}
	if err := s.MarkProcessed(ctx, "wamid.1"); err != nil {
		t.Errorf("MarkProcessed failed: %v", err)
	}
}

func TestMemoryDedup(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDedup(2)

	for _, id := range []string{"a", "b"} {
		if ok, _ := d.ClaimInbound(ctx, id, "s"); !ok {
			t.Errorf("ClaimInbound(%s) = false, want true", id)
		}
	}
	if ok, _ := d.ClaimInbound(ctx, "a", "s"); ok {
		t.Error("ClaimInbound(a) again = true, want false")
	}
	// "c" evicts "a", the oldest id.
	d.ClaimInbound(ctx, "c", "s")
	if ok, _ := d.ClaimInbound(ctx, "a", "s"); !ok {
		t.Error("ClaimInbound(a) after eviction = false, want true")
	}
}

func TestSQLiteStore_ReplyOutbox_EnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	id, err := s.EnqueueReply(ctx, RelayReply{SessionID: "wa:1", Channel: "whatsapp", To: "1", Body: "hello"})
	if err != nil {
		t.Fatalf("EnqueueReply failed: %v", err)
	}

	claimed, err := s.ClaimDueReplies(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueReplies failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Fatalf("ClaimDueReplies = %+v, want the enqueued reply", claimed)
	}
	if claimed[0].Status != ReplyStatusSending || claimed[0].Body != "hello" || claimed[0].To != "1" {
		t.Errorf("claimed reply = %+v", claimed[0])
	}

	// A claimed reply is not handed out twice.
	claimed, err = s.ClaimDueReplies(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("second ClaimDueReplies failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("second claim returned %d replies, want 0", len(claimed))
	}
}

func TestSQLiteStore_ReplyOutbox_DedupeKey(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	r := RelayReply{SessionID: "wa:1", Channel: "whatsapp", To: "1", Body: "hi", DedupeKey: "wa:1:3"}
	id1, err := s.EnqueueReply(ctx, r)
	if err != nil {
		t.Fatalf("EnqueueReply failed: %v", err)
	}
	id2, err := s.EnqueueReply(ctx, r)
	if err != nil {
		t.Fatalf("EnqueueReply (dup) failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("dedupe returned %q, want %q", id2, id1)
	}

	if err := s.MarkReplySent(ctx, id1); err != nil {
		t.Fatalf("MarkReplySent failed: %v", err)
	}
	id3, err := s.EnqueueReply(ctx, r)
	if err != nil {
		t.Fatalf("EnqueueReply after send failed: %v", err)
	}
	if id3 == id1 {
		t.Error("a sent reply must not absorb a new enqueue with the same key")
	}
}

func TestSQLiteStore_ReplyOutbox_FailAndPark(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	id, _ := s.EnqueueReply(ctx, RelayReply{SessionID: "wa:1", Channel: "whatsapp", To: "1", Body: "x"})
	now := time.Now()

	s.ClaimDueReplies(ctx, now, 10)
	if err := s.FailReply(ctx, id, "boom", now.Add(time.Hour), 2); err != nil {
		t.Fatalf("FailReply failed: %v", err)
	}
	if claimed, _ := s.ClaimDueReplies(ctx, now, 10); len(claimed) != 0 {
		t.Errorf("reply retried before next_attempt_at: %+v", claimed)
	}

	later := now.Add(2 * time.Hour)
	claimed, _ := s.ClaimDueReplies(ctx, later, 10)
	if len(claimed) != 1 || claimed[0].Attempts != 1 || claimed[0].LastError != "boom" {
		t.Fatalf("retry claim = %+v", claimed)
	}
	if err := s.FailReply(ctx, id, "boom again", later, 2); err != nil {
		t.Fatalf("second FailReply failed: %v", err)
	}
	if claimed, _ := s.ClaimDueReplies(ctx, later.Add(time.Hour), 10); len(claimed) != 0 {
		t.Errorf("parked reply was claimed again: %+v", claimed)
	}
}

func TestSQLiteStore_ReplyOutbox_RequeueStale(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	s.EnqueueReply(ctx, RelayReply{SessionID: "wa:1", Channel: "whatsapp", To: "1", Body: "x"})
	past := time.Now().Add(-time.Hour)
	if claimed, _ := s.ClaimDueReplies(ctx, past.Add(2*time.Hour), 10); len(claimed) != 1 {
		t.Fatalf("expected one claimed reply")
	}

	n, err := s.RequeueStaleReplies(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RequeueStaleReplies failed: %v", err)
	}
	if n != 1 {
		t.Errorf("RequeueStaleReplies = %d, want 1", n)
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	s.ClaimInbound(ctx, "wamid.1", "wa:1")
	sentID, _ := s.EnqueueReply(ctx, RelayReply{SessionID: "wa:1", Channel: "whatsapp", To: "1", Body: "sent"})
	s.EnqueueReply(ctx, RelayReply{SessionID: "wa:1", Channel: "whatsapp", To: "1", Body: "queued"})
	if err := s.MarkReplySent(ctx, sentID); err != nil {
		t.Fatalf("MarkReplySent failed: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	if n, err := s.PruneInbound(ctx, past); err != nil || n != 0 {
		t.Errorf("PruneInbound(past) = %d, %v; want 0", n, err)
	}

	future := time.Now().Add(time.Hour)
	if n, err := s.PruneInbound(ctx, future); err != nil || n != 1 {
		t.Errorf("PruneInbound(future) = %d, %v; want 1", n, err)
	}
	if ok, _ := s.ClaimInbound(ctx, "wamid.1", "wa:1"); !ok {
		t.Error("pruned message id should be claimable again")
	}
	if n, err := s.PruneSentReplies(ctx, future); err != nil || n != 1 {
		t.Errorf("PruneSentReplies = %d, %v; want 1", n, err)
	}
	if claimed, _ := s.ClaimDueReplies(ctx, future, 10); len(claimed) != 1 || claimed[0].Body != "queued" {
		t.Errorf("queued reply must survive pruning: %+v", claimed)
	}
}

func TestReplySender_Flush(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	var calls int32
	sender := NewReplySender(s, func(ctx context.Context, r RelayReply) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("channel offline")
		}
		return nil
	}, WithBaseBackoff(time.Millisecond))

	s.EnqueueReply(ctx, RelayReply{SessionID: "wa:1", Channel: "whatsapp", To: "1", Body: "first"})
	if sent := sender.Flush(ctx); sent != 0 {
		t.Errorf("Flush with failing send = %d, want 0", sent)
	}

	time.Sleep(20 * time.Millisecond)
	if sent := sender.Flush(ctx); sent != 1 {
		t.Errorf("Flush after backoff = %d, want 1", sent)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("send called %d times, want 2", got)
	}
	if sent := sender.Flush(ctx); sent != 0 {
		t.Errorf("Flush with empty outbox = %d, want 0", sent)
	}
}

func TestReplySender_RunStopsOnCancel(t *testing.T) {
	s := newTestSQLiteStore(t)
	delivered := make(chan RelayReply, 1)
	sender := NewReplySender(s, func(ctx context.Context, r RelayReply) error {
		delivered <- r
		return nil
	}, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sender.Run(ctx)
		close(done)
	}()

	s.EnqueueReply(context.Background(), RelayReply{SessionID: "wa:2", Channel: "twilio", To: "2", Body: "queued"})
	select {
	case r := <-delivered:
		if r.Body != "queued" {
			t.Errorf("delivered body = %q", r.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply was not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
