package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/SlotChat/internal/store"
)

// Maintenance configures the durable-store housekeeping jobs.
type Maintenance struct {
	Pruner      store.Pruner
	Sender      *store.ReplySender
	Retention   time.Duration
	PruneSpec   string
	RecoverSpec string
}

// PruneTask deletes dedup records and delivered replies older than retention.
func PruneTask(p store.Pruner, retention time.Duration) Task {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		inbound, err := p.PruneInbound(ctx, cutoff)
		if err != nil {
			return err
		}
		replies, err := p.PruneSentReplies(ctx, cutoff)
		if err != nil {
			return err
		}
		if inbound > 0 || replies > 0 {
			slog.Info("scheduler.PruneTask: pruned", "inbound", inbound, "replies", replies, "cutoff", cutoff)
		}
		return nil
	}
}

// RegisterMaintenance adds the prune and stale-reply jobs to s. Zero fields
// take the package defaults; a nil Sender skips the recovery job.
func RegisterMaintenance(s *Scheduler, m Maintenance) error {
	if m.Retention <= 0 {
		m.Retention = DefaultRetention
	}
	if m.PruneSpec == "" {
		m.PruneSpec = DefaultPruneSpec
	}
	if m.RecoverSpec == "" {
		m.RecoverSpec = DefaultRecoverSpec
	}
	if m.Pruner != nil {
		if err := s.AddJob("prune", m.PruneSpec, PruneTask(m.Pruner, m.Retention)); err != nil {
			return err
		}
	}
	if m.Sender != nil {
		if err := s.AddJob("recover-replies", m.RecoverSpec, m.Sender.RecoverStale); err != nil {
			return err
		}
	}
	return nil
}
