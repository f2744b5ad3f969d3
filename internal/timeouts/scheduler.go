// Package timeouts arms one cancellable countdown per join request and runs
// the auto-approval callback when a countdown expires.
package timeouts

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle of a single countdown.
type State int32

const (
	StateArmed State = iota
	StateFired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExpireFunc is invoked once when a countdown fires.
type ExpireFunc func(ctx context.Context, requestID string)

// Handle is the ownership token for one countdown. Exactly one of Fired and
// Cancelled is ever reached.
type Handle struct {
	requestID string
	deadline  time.Time
	state     atomic.Int32
	timer     *time.Timer
	sched     *Scheduler
}

// RequestID returns the request the countdown belongs to.
func (h *Handle) RequestID() string {
	return h.requestID
}

// Deadline returns when the countdown fires.
func (h *Handle) Deadline() time.Time {
	return h.deadline
}

// State returns the current state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Cancel stops the countdown. It returns true only if the countdown had not
// fired yet; cancelling a fired or cancelled handle is a no-op. A nil handle
// is never armed.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	if !h.state.CompareAndSwap(int32(StateArmed), int32(StateCancelled)) {
		return false
	}
	h.timer.Stop()
	h.sched.forget(h)
	return true
}

// Scheduler owns all armed countdowns.
type Scheduler struct {
	onExpire ExpireFunc
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handles map[*Handle]struct{}
	closed  bool
	running sync.WaitGroup
}

// NewScheduler creates a scheduler that calls onExpire for every countdown
// that fires before being cancelled.
func NewScheduler(onExpire ExpireFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		onExpire: onExpire,
		logger:   logger.With("component", "timeouts"),
		ctx:      ctx,
		cancel:   cancel,
		handles:  make(map[*Handle]struct{}),
	}
}

// Start arms a countdown for requestID. A non-positive duration disables
// auto-approval for the request and returns nil.
func (s *Scheduler) Start(requestID string, d time.Duration) *Handle {
	if d <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	h := &Handle{
		requestID: requestID,
		deadline:  time.Now().Add(d),
		sched:     s,
	}
	s.handles[h] = struct{}{}
	h.timer = time.AfterFunc(d, func() { s.fire(h) })
	s.logger.Debug("countdown armed", "request_id", requestID, "after", d)
	return h
}

// Armed returns the number of countdowns that have neither fired nor been
// cancelled.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Stop cancels all armed countdowns and waits for expiry callbacks that are
// already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	handles := make([]*Handle, 0, len(s.handles))
	for h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	s.cancel()
	s.running.Wait()
}

func (s *Scheduler) fire(h *Handle) {
	// Check-and-skip: a cancel that won the swap means this callback must not run.
	if !h.state.CompareAndSwap(int32(StateArmed), int32(StateFired)) {
		return
	}

	s.mu.Lock()
	delete(s.handles, h)
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	s.logger.Debug("countdown fired", "request_id", h.requestID)
	if s.onExpire != nil {
		s.onExpire(s.ctx, h.requestID)
	}
}

func (s *Scheduler) forget(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}
