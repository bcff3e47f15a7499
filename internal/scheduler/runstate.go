package scheduler

import "sync/atomic"

// runState guards a job against overlapping runs.
type runState struct {
	running atomic.Bool
}

func (s *runState) tryAcquire() bool { return s.running.CompareAndSwap(false, true) }

func (s *runState) release() { s.running.Store(false) }

func (s *runState) busy() bool { return s.running.Load() }
