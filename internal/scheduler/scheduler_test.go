package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/SlotChat/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler(context.Background())
	defer s.Stop()

	// Should add a valid cron job without error
	if err := s.AddJob("noop", "* * * * *", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("descriptor", "@every 10m", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Expected descriptors to be accepted, got %v", err)
	}
	if err := s.AddJob("bad", "not a cron spec", func(context.Context) error { return nil }); err == nil {
		t.Error("Expected error for an invalid expression")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	s := NewScheduler(context.Background())
	defer s.Stop()

	var runs atomic.Int32
	if err := s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context has no deadline")
		}
		runs.Add(1)
		return errors.New("logged, not fatal")
	}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Error("job never ran")
	}
}

func TestSchedulerSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(ctx)
	defer s.Stop()
	cancel()

	ran := false
	s.run("cancelled", func(context.Context) error {
		ran = true
		return nil
	})
	if ran {
		t.Error("job ran after the scheduler context was cancelled")
	}
}

type fakePruner struct {
	inbound, replies int
	err              error
	cutoffs          []time.Time
}

func (f *fakePruner) PruneInbound(_ context.Context, before time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.inbound, f.err
}

func (f *fakePruner) PruneSentReplies(_ context.Context, before time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.replies, nil
}

func TestPruneTask(t *testing.T) {
	p := &fakePruner{inbound: 3, replies: 1}
	if err := PruneTask(p, time.Hour)(context.Background()); err != nil {
		t.Fatalf("PruneTask: %v", err)
	}
	if len(p.cutoffs) != 2 {
		t.Fatalf("expected both tables pruned, got %d calls", len(p.cutoffs))
	}
	if age := time.Since(p.cutoffs[0]); age < time.Hour || age > time.Hour+time.Minute {
		t.Errorf("cutoff age = %v, want about 1h", age)
	}

	boom := errors.New("boom")
	failing := &fakePruner{err: boom}
	if err := PruneTask(failing, time.Hour)(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if len(failing.cutoffs) != 1 {
		t.Errorf("replies should not be pruned after an inbound failure")
	}
}

func TestRegisterMaintenance(t *testing.T) {
	tests := []struct {
		name    string
		m       Maintenance
		wantLen int
		wantErr bool
	}{
		{"nothing", Maintenance{}, 0, false},
		{"prune only", Maintenance{Pruner: &fakePruner{}}, 1, false},
		{"prune and recover", Maintenance{Pruner: &fakePruner{}, Sender: store.NewReplySender(nil, nil)}, 2, false},
		{"bad spec", Maintenance{Pruner: &fakePruner{}, PruneSpec: "every hour"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(context.Background())
			defer s.Stop()
			err := RegisterMaintenance(s, tt.m)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RegisterMaintenance error = %v, wantErr %v", err, tt.wantErr)
			}
			if s.Len() != tt.wantLen {
				t.Errorf("Len = %d, want %d", s.Len(), tt.wantLen)
			}
		})
	}
}
