package bayeux

import (
	"runtime"
	"sync"
	"time"
)

// CancelFunc cancels a scheduled task. Calling it after the task has
// already fired is a safe no-op.
type CancelFunc func()

// Scheduler is the delayed-task abstraction the WebSocket transport
// uses for per-exchange expiry (original spec C3). A single shared
// instance is normally injected via WithScheduler; otherwise the
// transport owns one for its own lifetime.
type Scheduler interface {
	// Schedule arranges for f to run after d and returns a CancelFunc
	// that prevents it from running if called before it fires.
	Schedule(d time.Duration, f func()) CancelFunc
	// Shutdown releases resources owned by the scheduler. Schedulers
	// injected by the caller are never shut down by the transport.
	Shutdown()
}

// timerScheduler is the default Scheduler, backed by time.AfterFunc.
// The original spec suggests a small worker pool sized to
// max(1, cores/4) with remove-on-cancel timers; we approximate that
// with a bounded semaphore around AfterFunc callbacks so at most that
// many expiries run concurrently, while still using Go's runtime
// timer wheel rather than hand-rolling one.
type timerScheduler struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewScheduler returns the default Scheduler implementation.
func NewScheduler() Scheduler {
	workers := runtime.NumCPU() / 4
	if workers < 1 {
		workers = 1
	}
	return &timerScheduler{sem: make(chan struct{}, workers)}
}

func (s *timerScheduler) Schedule(d time.Duration, f func()) CancelFunc {
	s.wg.Add(1)
	timer := time.AfterFunc(d, func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		f()
	})
	return func() {
		if timer.Stop() {
			s.wg.Done()
		}
	}
}

func (s *timerScheduler) Shutdown() {
	s.once.Do(func() {
		s.wg.Wait()
	})
}
