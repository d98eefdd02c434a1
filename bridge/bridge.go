// Package bridge composes the request tracker, the completion handle binder
// and the status publisher into the command surface served to clients.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"smsbridge/internal/address"
	"smsbridge/internal/audit"
	"smsbridge/internal/logging"
	"smsbridge/internal/metrics"
	"smsbridge/status"
	"smsbridge/storage"
	"smsbridge/tracker"
	"smsbridge/transport"
)

const queuedMessage = "SMS queued for sending"

// SendRequest is one send command.
type SendRequest struct {
	Destination string
	Payload     string
	SimSlot     int
}

// SendResult is returned once a send has been handed to the transport.
type SendResult struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Options configures New. Transport is required.
type Options struct {
	Transport transport.Transport
	// Gate defaults to always permitted.
	Gate Gate
	// Sims defaults to a single default entry.
	Sims   SimProvider
	Spool  *storage.Spool
	Clock  clock.Clock
	Logger *zap.Logger
	// NewID overrides the tracking id source.
	NewID func() string
}

// Bridge accepts sends and relays their completion as status events.
type Bridge struct {
	tracker   *tracker.Tracker
	publisher *status.Publisher
	binder    *transport.Binder
	transport transport.Transport
	gate      Gate
	sims      SimProvider
	spool     *storage.Spool
	clock     clock.Clock
	log       *zap.Logger

	// lifecycle orders record setup against StopTracking and Close.
	lifecycle sync.RWMutex
	closed    atomic.Bool
}

// New builds a bridge around opts.Transport.
func New(opts Options) (*Bridge, error) {
	if opts.Transport == nil {
		return nil, errors.New("bridge: transport is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	gate := opts.Gate
	if gate == nil {
		gate = StaticGate(true)
	}
	sims := opts.Sims
	if sims == nil {
		sims = StaticSims(nil)
	}
	return &Bridge{
		tracker:   tracker.New(clk, tracker.WithIDSource(opts.NewID)),
		publisher: status.NewPublisher(clk),
		binder:    transport.NewBinder(),
		transport: opts.Transport,
		gate:      gate,
		sims:      sims,
		spool:     opts.Spool,
		clock:     clk,
		log:       logging.OrNop(opts.Logger).Named("bridge"),
	}, nil
}

// Send validates req, starts tracking it and hands it to the transport.
// Completion is reported only through events.
func (b *Bridge) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if b.closed.Load() {
		return SendResult{}, b.reject("no_context", newError(CodeNoContext, "Context not available", ErrClosed))
	}
	if strings.TrimSpace(req.Payload) == "" {
		return SendResult{}, b.reject("invalid_arguments", newError(CodeInvalidArguments, "Phone number and message are required", nil))
	}
	dest, err := address.ParseNumber(req.Destination)
	if err != nil {
		return SendResult{}, b.reject("invalid_arguments", newError(CodeInvalidArguments, "Phone number and message are required", err))
	}
	if req.SimSlot < 0 {
		return SendResult{}, b.reject("invalid_arguments", newError(CodeInvalidArguments, "SIM slot must not be negative", nil))
	}
	if !b.gate.Permitted(ctx) {
		audit.Log("send permission denied", zap.String("destination", dest))
		return SendResult{}, b.reject("permission_denied", newError(CodePermissionDenied, "SMS permissions not granted", nil))
	}

	id, binding, setupErr := b.begin(dest, req.Payload)
	if setupErr != nil {
		reason := "setup_failed"
		if setupErr.Code == CodeNoContext {
			reason = "no_context"
		}
		return SendResult{}, b.reject(reason, setupErr)
	}

	b.publish(id, dest, status.Queued, "")
	if _, ok := b.tracker.MarkSending(id); ok {
		b.publish(id, dest, status.Sending, "")
	}
	metrics.SetTracked(b.tracker.Len())

	msg := transport.Message{ID: id, Destination: dest, Payload: req.Payload, Slot: req.SimSlot}
	cb := transport.Callbacks{
		OnSent:      func(code transport.ResultCode) { b.complete(id, binding.Sent, code) },
		OnDelivered: func(code transport.ResultCode) { b.complete(id, binding.Delivered, code) },
	}
	if err := b.transport.Transmit(ctx, msg, cb); err != nil {
		b.log.Warn("transmit failed", zap.String("id", id), zap.Error(err))
		if rec, ok := b.tracker.MarkSent(id, status.Failed, "Failed to send SMS: "+err.Error()); ok {
			b.finish(rec)
		}
		b.binder.Release(id)
		metrics.SetTracked(b.tracker.Len())
		return SendResult{}, b.reject("transmit_failed", newError(CodeSendFailed, "Failed to send SMS", err))
	}

	metrics.SendsAccepted.Inc()
	b.log.Debug("send accepted", zap.String("id", id), zap.Int("sim_slot", req.SimSlot))
	return SendResult{ID: id, Status: string(status.Queued), Message: queuedMessage}, nil
}

// begin creates the record and its completion handles. It fails with
// NO_CONTEXT once the bridge is closed.
func (b *Bridge) begin(dest, payload string) (string, transport.Binding, *Error) {
	b.lifecycle.RLock()
	defer b.lifecycle.RUnlock()
	if b.closed.Load() {
		return "", transport.Binding{}, newError(CodeNoContext, "Context not available", ErrClosed)
	}
	id := b.tracker.Begin(dest, payload)
	binding, err := b.binder.Bind(id)
	if err != nil {
		b.tracker.Discard(id)
		b.log.Warn("completion handles unavailable", zap.String("id", id), zap.Error(err))
		return "", transport.Binding{}, newError(CodeSendFailed, "Failed to create SMS tracking handles", fmt.Errorf("%w: %w", ErrSetup, err))
	}
	return id, binding, nil
}

// complete routes a fired completion handle back to its record. Signals for
// records that are gone, including delivered signals after the sent signal
// removed the record, are dropped. It reports whether a record finished.
func (b *Bridge) complete(id string, h transport.Handle, code transport.ResultCode) bool {
	boundID, kind, ok := b.binder.Resolve(h)
	if !ok || boundID != id {
		b.late(id, h, code)
		return false
	}

	var (
		rec   tracker.Record
		found bool
	)
	switch kind {
	case transport.KindSent:
		st, detail := transport.SentOutcome(code)
		rec, found = b.tracker.MarkSent(id, st, detail)
	case transport.KindDelivered:
		st, detail := transport.DeliveredOutcome(code)
		rec, found = b.tracker.MarkDelivered(id, st, detail)
	}
	b.binder.Release(id)
	if !found {
		b.late(id, h, code)
		return false
	}
	metrics.SetTracked(b.tracker.Len())
	b.finish(rec)
	return true
}

func (b *Bridge) late(id string, h transport.Handle, code transport.ResultCode) {
	kind := transport.KindSent
	if h >= transport.DeliveredOffset {
		kind = transport.KindDelivered
	}
	metrics.LateSignals.WithLabelValues(kind.String()).Inc()
	b.log.Debug("signal for untracked send", zap.String("id", id), zap.Stringer("kind", kind), zap.Stringer("code", code))
}

// finish publishes the terminal event of rec and archives it.
func (b *Bridge) finish(rec tracker.Record) {
	b.publish(rec.ID, rec.Destination, rec.State, rec.Detail)
	if err := b.spool.Save(storage.Entry{
		ID:          rec.ID,
		Destination: rec.Destination,
		Payload:     rec.Payload,
		Status:      string(rec.State),
		Detail:      rec.Detail,
		CreatedAt:   rec.CreatedAt,
		FinishedAt:  b.clock.Now(),
	}); err != nil {
		b.log.Warn("spool write failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

func (b *Bridge) publish(id, dest string, st status.Status, detail string) {
	metrics.StatusEvents.WithLabelValues(string(st)).Inc()
	if _, delivered := b.publisher.Publish(id, dest, st, detail); !delivered {
		metrics.EventsDropped.Inc()
	}
}

func (b *Bridge) reject(reason string, err *Error) error {
	metrics.SendsRejected.WithLabelValues(reason).Inc()
	return err
}

// StartTracking records a send performed elsewhere, binds its completion
// handles and publishes its queued event. Nothing is transmitted; the sender
// reports results through Report.
func (b *Bridge) StartTracking(destination, payload string) (string, error) {
	if b.closed.Load() {
		return "", newError(CodeNoContext, "Context not available", ErrClosed)
	}
	destination = strings.TrimSpace(destination)
	if destination == "" || payload == "" {
		return "", newError(CodeInvalidArguments, "Phone number and message text are required", nil)
	}
	id, _, err := b.begin(destination, payload)
	if err != nil {
		return "", err
	}
	b.publish(id, destination, status.Queued, "")
	metrics.SetTracked(b.tracker.Len())
	return id, nil
}

// Report feeds a sent or delivered result for id, as a transport callback
// would. It reports whether a live record finished; signals for unknown or
// finished ids are dropped.
func (b *Bridge) Report(id string, kind transport.Kind, code transport.ResultCode) bool {
	binding, ok := b.binder.Binding(id)
	if !ok {
		h := transport.SentHandle(id)
		if kind == transport.KindDelivered {
			h = transport.DeliveredHandle(id)
		}
		b.late(id, h, code)
		return false
	}
	h := binding.Sent
	if kind == transport.KindDelivered {
		h = binding.Delivered
	}
	return b.complete(id, h, code)
}

// StopTracking drops every record and handle. In-flight transport operations
// are not cancelled; their signals become no-ops.
func (b *Bridge) StopTracking() int {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	return b.stopTracking()
}

func (b *Bridge) stopTracking() int {
	n := b.tracker.Clear()
	b.binder.Reset()
	metrics.SetTracked(0)
	if n > 0 {
		b.log.Info("tracking cleared", zap.Int("records", n))
	}
	return n
}

// IsSupported reports whether status tracking is available.
func (b *Bridge) IsSupported() bool {
	return !b.closed.Load()
}

// HasPermissions reports the gate decision.
func (b *Bridge) HasPermissions(ctx context.Context) bool {
	if b.closed.Load() {
		return false
	}
	return b.gate.Permitted(ctx)
}

// SimCards lists the sending identities, falling back to DefaultSim.
func (b *Bridge) SimCards(ctx context.Context) []SimCard {
	cards, err := b.sims.SimCards(ctx)
	if err != nil {
		b.log.Warn("listing sim cards failed", zap.Error(err))
	}
	if len(cards) == 0 {
		return []SimCard{DefaultSim}
	}
	return cards
}

// Listen attaches sub as the only event subscriber.
func (b *Bridge) Listen(sub status.Subscriber) *status.Subscription {
	return b.publisher.Attach(sub)
}

// Listening reports whether an event subscriber is attached.
func (b *Bridge) Listening() bool {
	return b.publisher.Attached()
}

// Detach removes the event subscriber.
func (b *Bridge) Detach() {
	b.publisher.Detach()
}

// Lookup returns the live record for id.
func (b *Bridge) Lookup(id string) (tracker.Record, bool) {
	return b.tracker.Lookup(id)
}

// Close clears all tracking state and detaches the subscriber. Later sends
// fail with NO_CONTEXT.
func (b *Bridge) Close() {
	b.lifecycle.Lock()
	if !b.closed.CompareAndSwap(false, true) {
		b.lifecycle.Unlock()
		return
	}
	b.stopTracking()
	b.lifecycle.Unlock()
	b.publisher.Detach()
	b.log.Info("bridge closed")
}
