// Package scheduler drives periodic sync passes and fires an immediate
// pass when connectivity returns.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fieldhq/fieldsync/internal/errors"
	"github.com/fieldhq/fieldsync/internal/logging"
	"github.com/fieldhq/fieldsync/internal/store"
	syncpkg "github.com/fieldhq/fieldsync/internal/sync"
)

// DefaultPassTimeout bounds a single scheduled pass. A pass that cannot
// finish inside it is wedged on the network, not working.
const DefaultPassTimeout = 5 * time.Minute

// Scheduler triggers sync passes on an interval. The interval is
// re-read from settings before every round, so changing it takes
// effect without a restart. Offline devices skip ticks entirely; the
// offline-to-online flip reported through SetOnline triggers a pass of
// its own.
type Scheduler struct {
	engine      syncpkg.EngineInterface
	repo        *store.Repository
	passTimeout time.Duration

	mu       sync.RWMutex
	running  bool
	online   bool
	lastPass time.Time
	ctx      context.Context
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	Running     bool
	Online      bool
	Interval    time.Duration
	LastPassAt  time.Time
	EngineState syncpkg.State
}

// New creates a Scheduler. The device is assumed online until the
// network monitor reports otherwise.
func New(engine syncpkg.EngineInterface, repo *store.Repository) *Scheduler {
	return &Scheduler{
		engine:      engine,
		repo:        repo,
		passTimeout: DefaultPassTimeout,
		online:      true,
	}
}

// Start launches the interval loop. Starting a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx = ctx
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	stop := s.stopCh
	s.mu.Unlock()

	go s.loop(ctx, stop)

	logging.Info("sync scheduler started", map[string]interface{}{
		"interval": s.interval().String(),
	})
}

// Stop shuts the loop down and waits for any in-flight triggered pass.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop := s.stopCh
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	logging.Info("sync scheduler stopped")
}

// SetOnline records the monitor's connectivity verdict. A flip from
// offline back to online triggers an immediate pass so queued work
// drains right away instead of waiting out the interval. Wire this to
// network.Monitor's OnChange.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	regained := s.running && online && !s.online
	s.online = online
	ctx := s.ctx
	if regained {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if !regained {
		return
	}

	logging.Info("connectivity regained, triggering sync pass")
	go func() {
		defer s.wg.Done()
		s.runPass(ctx)
	}()
}

// Online returns the last reported connectivity verdict.
func (s *Scheduler) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Running reports whether the interval loop is active.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Status snapshots the scheduler for the control API.
func (s *Scheduler) Status() Status {
	interval := s.interval()
	engineState := s.engine.State()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Running:     s.running,
		Online:      s.online,
		Interval:    interval,
		LastPassAt:  s.lastPass,
		EngineState: engineState,
	}
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(s.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		s.tick(ctx)
	}
}

// interval reads the configured period, falling back to the default
// when settings are unreadable.
func (s *Scheduler) interval() time.Duration {
	interval, err := s.repo.SyncInterval()
	if err != nil || interval <= 0 {
		return store.DefaultSyncInterval
	}
	return interval
}

// tick runs one scheduled pass. Offline devices skip the attempt, the
// connectivity-regained trigger covers them instead.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.Online() {
		logging.Debug("scheduled pass skipped, device offline")
		return
	}
	s.runPass(ctx)
}

func (s *Scheduler) runPass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	result, err := s.engine.Sync(passCtx, false)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrSyncInProgress {
			logging.Debug("pass already running, scheduled trigger dropped")
			return
		}
		logging.ErrorWithCode("scheduled sync pass failed", string(errors.CodeOf(err)), err)
		return
	}

	s.mu.Lock()
	s.lastPass = time.Now()
	s.mu.Unlock()

	logging.Debug("scheduled sync pass finished", map[string]interface{}{
		"state": string(result.State),
	})
}
