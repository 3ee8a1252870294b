package billing

import (
	"context"
	"log/slog"
	"time"
)

// BatchLocker elects a single instance to run a batch. Backed by redis in
// production (pkg/utils); tests use a stub.
type BatchLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

const cycleLockKey = "billing:cycle_leader"

// Scheduler drives the billing cycle on a fixed interval. Every instance
// ticks; the batch lock makes sure only one of them runs the cycle, and
// Cycle.Run only touches bills that are actually due, so the cadence does
// not need to be exact.
type Scheduler struct {
	cycle    *Cycle
	lock     BatchLocker
	interval time.Duration
	log      *slog.Logger
}

func NewScheduler(cycle *Cycle, lock BatchLocker, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cycle: cycle, lock: lock, interval: interval, log: log}
}

// RunForever blocks until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx, cycleLockKey, s.interval)
		if err != nil {
			s.log.Error("cycle lock acquire failed", "err", err)
			return
		}
		if !ok {
			s.log.Debug("another instance holds the cycle lock")
			return
		}
		defer func() {
			if err := s.lock.Release(ctx, cycleLockKey); err != nil {
				s.log.Error("cycle lock release failed", "err", err)
			}
		}()
	}

	if err := s.cycle.Run(ctx); err != nil {
		s.log.Error("billing cycle finished with failures", "err", err)
	}
}
