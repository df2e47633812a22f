// Package scheduler runs the periodic sync of every tracked symbol.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"stock-tracker/config"
	"stock-tracker/internal/app"
	"stock-tracker/observability"

	"github.com/robfig/cron/v3"
)

// BatchSyncer syncs every tracked symbol
type BatchSyncer interface {
	SyncAll(ctx context.Context) ([]app.SymbolResult, error)
}

// Scheduler manages the cron tasks
type Scheduler struct {
	Cron   *cron.Cron
	Syncer BatchSyncer
	Ctx    context.Context

	// Timeout bounds a single scheduled batch; zero means no bound
	Timeout time.Duration
}

// NewScheduler creates a new Scheduler. Overlapping runs are skipped and a
// panicking run does not stop the scheduler.
func NewScheduler(ctx context.Context, syncer BatchSyncer) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		Cron: cron.New(
			cron.WithParser(cron.NewParser(config.CronParseOptions)),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
			cron.WithLogger(logger),
		),
		Syncer: syncer,
		Ctx:    ctx,
	}
}

// Register adds the sync task on spec
func (s *Scheduler) Register(spec string) error {
	if _, err := s.Cron.AddFunc(spec, s.syncTask); err != nil {
		return fmt.Errorf("register sync task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.Cron.Start()
	observability.Info("scheduler started", "entries", len(s.Cron.Entries()))
}

// Stop stops the scheduler and waits for a running sync to finish
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	observability.Info("scheduler stopped")
}

// Next returns when the sync task fires next. It is zero before Start or
// when nothing is registered.
func (s *Scheduler) Next() time.Time {
	entries := s.Cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow executes the sync task immediately (for RUN_ON_START or manual triggers)
func (s *Scheduler) RunNow() {
	s.syncTask()
}

func (s *Scheduler) syncTask() {
	ctx := s.Ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	observability.Info("running scheduled sync")
	results, err := s.Syncer.SyncAll(ctx)
	if err != nil {
		observability.Error("scheduled sync had failures", "symbols", len(results), "error", err)
		return
	}
	observability.Info("scheduled sync finished", "symbols", len(results))
}

// cronLogger routes cron's own messages to the application logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	observability.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	observability.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
