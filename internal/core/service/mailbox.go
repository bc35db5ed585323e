package service

import (
	"context"
	"sync"
)

type job func(ctx context.Context)

// mailbox is an unbounded FIFO of jobs. push never blocks, so engine
// callbacks may post from inside a running job.
type mailbox struct {
	mu     sync.Mutex
	jobs   []job
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(j job) {
	m.mu.Lock()
	m.jobs = append(m.jobs, j)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []job {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.jobs
	m.jobs = nil
	return jobs
}
