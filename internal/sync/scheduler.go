package sync

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/timberline/fleetsync/internal/logging"
)

// Scheduler runs periodic reconciliation on a cron schedule while online.
// It is a safety net behind the monitor's transition trigger: it picks up
// items whose retry backoff expired between connectivity changes.
type Scheduler struct {
	uploader *Uploader
	monitor  *Monitor
	spec     string
	cron     *cron.Cron
	entryID  cron.EntryID
}

// NewScheduler creates a Scheduler with a cron spec such as "@every 5m".
func NewScheduler(u *Uploader, m *Monitor, spec string) *Scheduler {
	return &Scheduler{
		uploader: u,
		monitor:  m,
		spec:     spec,
		cron:     cron.New(),
	}
}

// Start registers the schedule and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() {
		if !s.monitor.IsOnline() {
			logging.Debug("Skipping scheduled reconciliation while offline")
			return
		}
		// The uploader's per-kind guard makes overlap with a
		// transition-triggered pass harmless.
		s.uploader.ReconcileAll(ctx)
	})
	if err != nil {
		return err
	}

	s.entryID = id
	s.cron.Start()

	logging.Info("Reconciliation scheduler started",
		map[string]interface{}{"schedule": s.spec})
	return nil
}

// Stop stops the cron runner.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	logging.Info("Reconciliation scheduler stopped")
}
