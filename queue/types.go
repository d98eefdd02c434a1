package queue

import (
	"context"
	"errors"
)

var (
	// ErrFull is returned by Enqueue when every slot is taken.
	ErrFull = errors.New("queue full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("queue stopped")
)

// Job is one unit of work. Run receives a context that is cancelled only when
// the manager is stopped with pending work abandoned.
type Job struct {
	ID  string
	Run func(ctx context.Context)
}
