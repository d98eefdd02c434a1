package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerRunsJobs(t *testing.T) {
	m := NewManager(8, 2, nil)
	m.Start()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		if err := m.Enqueue(Job{ID: "job", Run: func(context.Context) { ran.Add(1); wg.Done() }}); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}
	wg.Wait()
	if got := ran.Load(); got != 5 {
		t.Fatalf("expected 5 runs, got %d", got)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}

func TestManagerFull(t *testing.T) {
	m := NewManager(1, 1, nil)

	if err := m.Enqueue(Job{ID: "a", Run: func(context.Context) {}}); err != nil {
		t.Fatalf("first Enqueue returned error: %v", err)
	}
	if got := m.Depth(); got != 1 {
		t.Fatalf("expected depth 1, got %d", got)
	}
	if err := m.Enqueue(Job{ID: "b", Run: func(context.Context) {}}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestManagerStopDrainsBuffered(t *testing.T) {
	m := NewManager(4, 1, nil)
	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		if err := m.Enqueue(Job{Run: func(context.Context) { ran.Add(1) }}); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}
	m.Start()
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if got := ran.Load(); got != 3 {
		t.Fatalf("expected buffered jobs to run, got %d", got)
	}
	if err := m.Enqueue(Job{Run: func(context.Context) {}}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager(2, 1, nil)
	var ran atomic.Int32
	_ = m.Enqueue(Job{Run: func(context.Context) { ran.Add(1) }})

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if ran.Load() != 1 {
		t.Fatalf("expected buffered job to run on Stop")
	}
}

func TestManagerStopDeadlineCancelsJobs(t *testing.T) {
	m := NewManager(1, 1, nil)
	m.Start()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	_ = m.Enqueue(Job{Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("expected running job to observe cancellation")
	}
}

func TestManagerRecoversPanics(t *testing.T) {
	m := NewManager(2, 1, nil)
	m.Start()
	done := make(chan struct{})
	_ = m.Enqueue(Job{Run: func(context.Context) { panic("boom") }})
	_ = m.Enqueue(Job{Run: func(context.Context) { close(done) }})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker died after panic")
	}
	_ = m.Stop(context.Background())
}
