package status

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Status is the lifecycle state of a tracked send.
type Status string

const (
	Queued    Status = "queued"
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Failed    Status = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s Status) Terminal() bool {
	return s == Sent || s == Delivered || s == Failed
}

// Event is one status transition pushed to the subscriber.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Detail      string    `json:"detail,omitempty"`
}

// Subscriber receives published events in the publishing goroutine.
type Subscriber interface {
	OnEvent(Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Event)

// OnEvent calls f(ev).
func (f SubscriberFunc) OnEvent(ev Event) { f(ev) }

// Publisher delivers events to at most one attached subscriber.
// Events published while nobody is attached are dropped.
type Publisher struct {
	mu    sync.Mutex
	sub   Subscriber
	gen   uint64
	clock clock.Clock
}

// NewPublisher returns a publisher stamping events with clk. A nil clk uses
// the wall clock.
func NewPublisher(clk clock.Clock) *Publisher {
	if clk == nil {
		clk = clock.New()
	}
	return &Publisher{clock: clk}
}

// Subscription is the handle returned by Attach.
type Subscription struct {
	p   *Publisher
	gen uint64
}

// Cancel detaches the subscriber if it is still the active one. It is safe to
// call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.p == nil {
		return
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.gen == s.gen && s.p.sub != nil {
		s.p.sub = nil
	}
}

// Attach makes sub the active subscriber, replacing any previous one.
func (p *Publisher) Attach(sub Subscriber) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.sub = sub
	return &Subscription{p: p, gen: p.gen}
}

// Detach removes the active subscriber, whoever attached it.
func (p *Publisher) Detach() {
	p.mu.Lock()
	p.sub = nil
	p.mu.Unlock()
}

// Attached reports whether a subscriber is bound.
func (p *Publisher) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil
}

// Publish builds an event and hands it to the subscriber. The returned event is
// the one built; delivered is false when it was dropped.
func (p *Publisher) Publish(id, destination string, st Status, detail string) (ev Event, delivered bool) {
	ev = Event{
		ID:          id,
		Destination: destination,
		Status:      st,
		Timestamp:   p.clock.Now(),
		Detail:      detail,
	}

	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()

	if sub == nil {
		return ev, false
	}
	sub.OnEvent(ev)
	return ev, true
}
