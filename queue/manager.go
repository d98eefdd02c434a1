// Package queue runs submissions on a fixed pool of workers behind a bounded
// buffer. There is no retry: each job runs once.
package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"smsbridge/internal/logging"
	"smsbridge/internal/metrics"
)

// Manager owns the buffer and the workers.
type Manager struct {
	jobs    chan Job
	workers int
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewManager creates a manager buffering up to capacity jobs for workers
// goroutines. Non-positive values become 1.
func NewManager(capacity, workers int, logger *zap.Logger) *Manager {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:    make(chan Job, capacity),
		workers: workers,
		log:     logging.OrNop(logger).Named("queue"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it again is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.work()
	}
}

// Enqueue buffers job without blocking.
func (m *Manager) Enqueue(job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	select {
	case m.jobs <- job:
		metrics.SetQueueDepth(len(m.jobs))
		return nil
	default:
		m.log.Warn("queue full", zap.String("id", job.ID), zap.Int("capacity", cap(m.jobs)))
		return ErrFull
	}
}

// Depth returns the number of jobs waiting for a worker.
func (m *Manager) Depth() int {
	return len(m.jobs)
}

// Stop refuses new jobs and waits for the workers to drain the buffer. When
// ctx ends first, the running jobs' context is cancelled and Stop returns
// ctx's error.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started := m.started
	close(m.jobs)
	m.mu.Unlock()

	if !started {
		// Nobody will run what is buffered; run it here so every job completes.
		for job := range m.jobs {
			m.run(job)
		}
		m.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) work() {
	defer m.wg.Done()
	for job := range m.jobs {
		metrics.SetQueueDepth(len(m.jobs))
		m.run(job)
	}
}

func (m *Manager) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("job panicked", zap.String("id", job.ID), zap.Any("panic", r))
		}
	}()
	job.Run(m.ctx)
}
