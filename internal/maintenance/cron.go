// Package maintenance schedules periodic sweeps (heartbeat dead-driver
// recovery, cache/version compaction) via robfig/cron, adapted from
// services/orchestrator/scheduler.go's cron.New(cron.WithSeconds())
// wrapper. Cron here is strictly for periodic maintenance cadence; it
// never drives task scheduling proper (internal/scheduler.Policy owns
// that, dispatched on every worker poll).
package maintenance

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a small fixed set of maintenance jobs on cron
// expressions supplied by the operator.
type Scheduler struct {
	cron *cron.Cron
	mu   sync.Mutex
	ids  map[string]cron.EntryID
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		ids:  make(map[string]cron.EntryID),
	}
}

// AddJob schedules fn on the given cron spec under name, replacing any
// job previously registered under that name.
func (s *Scheduler) AddJob(name, spec string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.ids[name]; ok {
		s.cron.Remove(id)
	}
	id, err := s.cron.AddFunc(spec, func() {
		fn(context.Background())
	})
	if err != nil {
		return err
	}
	s.ids[name] = id
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("maintenance scheduler started")
}

// Stop waits for running jobs to finish, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
