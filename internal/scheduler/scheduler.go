// Package scheduler runs SlotChat's periodic maintenance on cron expressions.
//
// Jobs keep the durable tables bounded: old dedup records and delivered
// replies are pruned, and replies stranded in sending are requeued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default maintenance settings.
const (
	DefaultPruneSpec   = "@every 1h"
	DefaultRecoverSpec = "@every 5m"
	DefaultRetention   = 7 * 24 * time.Hour
	DefaultJobTimeout  = time.Minute
)

// Task is one run of a scheduled job.
type Task func(ctx context.Context) error

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	timeout time.Duration
}

// NewScheduler creates and starts a cron scheduler. Tasks receive a context
// derived from ctx and bounded by DefaultJobTimeout.
func NewScheduler(ctx context.Context) *Scheduler {
	// Standard 5-field cron parser plus @every/@hourly descriptors.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c, ctx: ctx, timeout: DefaultJobTimeout}
}

// AddJob schedules task under name using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task Task) error {
	_, err := s.cron.AddFunc(expr, func() { s.run(name, task) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	slog.Debug("Scheduler.AddJob: scheduled", "job", name, "spec", expr)
	return nil
}

func (s *Scheduler) run(name string, task Task) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	start := time.Now()
	if err := task(ctx); err != nil {
		slog.Error("Scheduler.run: job failed", "job", name, "error", err)
		return
	}
	slog.Debug("Scheduler.run: job finished", "job", name, "duration", time.Since(start))
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
