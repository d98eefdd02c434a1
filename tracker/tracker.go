package tracker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"smsbridge/status"
)

// Record is the bookkeeping entry for one outbound send.
type Record struct {
	ID          string
	Destination string
	// Payload is kept for diagnostics only; it is never re-sent.
	Payload   string
	CreatedAt time.Time
	State     status.Status
	Detail    string
}

// Tracker owns the set of in-flight sends.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	clock   clock.Clock
	newID   func() string
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithIDSource replaces the random UUID id source. A nil fn is ignored. If fn
// keeps returning live ids, Begin falls back to random UUIDs after a few tries.
func WithIDSource(fn func() string) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// New creates an empty tracker. A nil clk uses the wall clock.
func New(clk clock.Clock, opts ...Option) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	t := &Tracker{
		records: make(map[string]*Record),
		clock:   clk,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

const maxIDAttempts = 8

// Begin inserts a Queued record and returns its fresh id.
func (t *Tracker) Begin(destination, payload string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.newID
	id := next()
	for attempt := 1; t.live(id); attempt++ {
		if attempt == maxIDAttempts {
			next = uuid.NewString
		}
		id = next()
	}
	t.records[id] = &Record{
		ID:          id,
		Destination: destination,
		Payload:     payload,
		CreatedAt:   t.clock.Now(),
		State:       status.Queued,
	}
	return id
}

func (t *Tracker) live(id string) bool {
	_, ok := t.records[id]
	return ok
}

// Lookup returns a copy of the record for id.
func (t *Tracker) Lookup(id string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// MarkSending moves a Queued record to Sending.
func (t *Tracker) MarkSending(id string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok || rec.State != status.Queued {
		return Record{}, false
	}
	rec.State = status.Sending
	return *rec, true
}

// MarkSent applies the result of the sent signal. The record is removed on
// any outcome, so a later delivered signal for id is a no-op. ok is false when
// id is not tracked.
func (t *Tracker) MarkSent(id string, outcome status.Status, detail string) (Record, bool) {
	if outcome != status.Sent {
		outcome = status.Failed
	}
	return t.finish(id, outcome, detail)
}

// MarkDelivered applies the result of the delivered signal and removes the
// record. ok is false when id is not tracked.
func (t *Tracker) MarkDelivered(id string, outcome status.Status, detail string) (Record, bool) {
	if outcome != status.Delivered {
		outcome = status.Failed
	}
	return t.finish(id, outcome, detail)
}

func (t *Tracker) finish(id string, outcome status.Status, detail string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	delete(t.records, id)
	rec.State = outcome
	if outcome == status.Failed {
		rec.Detail = detail
	}
	return *rec, true
}

// Discard drops id without a terminal transition.
func (t *Tracker) Discard(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[id]; !ok {
		return false
	}
	delete(t.records, id)
	return true
}

// Clear removes every record and returns how many were dropped.
func (t *Tracker) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.records)
	t.records = make(map[string]*Record)
	return n
}

// Len returns the number of live records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
