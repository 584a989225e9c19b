package queue

import (
	"context"
	"sync"
	"time"
)

// LocalSignal wakes every waiting worker in this process.
type LocalSignal struct {
	mu      sync.Mutex
	waiters chan struct{}
}

func NewLocalSignal() *LocalSignal {
	return &LocalSignal{waiters: make(chan struct{})}
}

func (s *LocalSignal) Notify(context.Context) {
	s.mu.Lock()
	close(s.waiters)
	s.waiters = make(chan struct{})
	s.mu.Unlock()
}

func (s *LocalSignal) Wait(ctx context.Context, timeout time.Duration) bool {
	s.mu.Lock()
	waiters := s.waiters
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waiters:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
