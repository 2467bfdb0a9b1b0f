package node

import (
	"context"
	"time"

	"github.com/opencyphal-garage/cynode/pkg/iface/mocktime"
)

// Scheduler drives the node's three rate-class periodic loops plus a
// bounded I/O step, per spec.md §4.8: "owns three deadlines (next-fast,
// next-1Hz, next-0.1Hz) and runs the earliest ready loop each tick ...
// invokes a bounded I/O step ... MAY block until the nearest deadline but
// MUST unblock no later than that deadline." It is the single-threaded
// restructuring of the teacher's AdaptivePoll backoff timer and
// Listener.Accept's poll-with-sleep loop (spec.md §5 "strictly
// single-threaded cooperative").
type Scheduler struct {
	clock mocktime.Clock

	fastPeriod    time.Duration
	oneHzPeriod   time.Duration
	tenthHzPeriod time.Duration

	nextFast    time.Duration
	next1Hz     time.Duration
	next01Hz    time.Duration

	// FastTick, OneHzTick, TenthHzTick run the three rate-class periodic
	// loops; IOStep runs the bounded I/O step, passed the budget it may
	// block for. ShouldStop, when set, is polled once per tick and ends
	// Run when it returns true (spec.md §4.8 "restart_required flag").
	FastTick    func(now time.Duration)
	OneHzTick   func(now time.Duration)
	TenthHzTick func(now time.Duration)
	IOStep      func(now time.Duration, budget time.Duration)
	ShouldStop  func() bool
}

// NewScheduler creates a Scheduler with all three deadlines due
// immediately, so the first Tick runs every periodic loop once.
func NewScheduler(clock mocktime.Clock, fast, oneHz, tenthHz time.Duration) *Scheduler {
	now := clock.Now()
	return &Scheduler{
		clock:         clock,
		fastPeriod:    fast,
		oneHzPeriod:   oneHz,
		tenthHzPeriod: tenthHz,
		nextFast:      now,
		next1Hz:       now,
		next01Hz:      now,
	}
}

// Tick runs whichever periodic loops are due at now, then the I/O step
// with a budget bounded by the nearest remaining deadline. It never
// blocks itself; IOStep is responsible for honoring the budget it's
// given (e.g. by calling Adapter.Poll(budget)).
func (s *Scheduler) Tick() {
	now := s.clock.Now()

	if now >= s.nextFast {
		if s.FastTick != nil {
			s.FastTick(now)
		}
		s.nextFast = now + s.fastPeriod
	}
	if now >= s.next1Hz {
		if s.OneHzTick != nil {
			s.OneHzTick(now)
		}
		s.next1Hz = now + s.oneHzPeriod
	}
	if now >= s.next01Hz {
		if s.TenthHzTick != nil {
			s.TenthHzTick(now)
		}
		s.next01Hz = now + s.tenthHzPeriod
	}

	budget := s.nextFast - now
	if d := s.next1Hz - now; d < budget {
		budget = d
	}
	if d := s.next01Hz - now; d < budget {
		budget = d
	}
	if budget < 0 {
		budget = 0
	}
	if s.IOStep != nil {
		s.IOStep(now, budget)
	}
}

// Run ticks until ctx is cancelled or ShouldStop reports true, per
// spec.md §4.8 "Cancellation is by raising the restart_required flag,
// which the loop checks between ticks".
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.ShouldStop != nil && s.ShouldStop() {
			return nil
		}
		s.Tick()
	}
}
