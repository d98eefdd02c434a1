// Package loopback is an in-process transport that completes every send with
// configured result codes. It backs development runs and tests.
package loopback

import (
	"context"
	"sync"
	"time"

	"smsbridge/transport"
)

// Transport completes sends without touching a network.
type Transport struct {
	// SentCode is reported on the sent callback.
	SentCode transport.ResultCode
	// DeliveredCode is reported on the delivered callback when Deliver is set.
	DeliveredCode transport.ResultCode
	Deliver       bool
	// Delay is applied before each completion signal.
	Delay time.Duration

	mu   sync.Mutex
	sent []transport.Message
}

// New returns a transport reporting successful sends and deliveries.
func New() *Transport {
	return &Transport{SentCode: transport.Ok, DeliveredCode: transport.Ok, Deliver: true}
}

// Transmit records msg and schedules the completion signals.
func (t *Transport) Transmit(ctx context.Context, msg transport.Message, cb transport.Callbacks) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	sentCode, deliveredCode, deliver, delay := t.SentCode, t.DeliveredCode, t.Deliver, t.Delay
	t.mu.Unlock()

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		if cb.OnSent != nil {
			cb.OnSent(sentCode)
		}
		if !deliver || sentCode != transport.Ok || cb.OnDelivered == nil {
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		cb.OnDelivered(deliveredCode)
	}()
	return nil
}

// Sent returns the messages transmitted so far.
func (t *Transport) Sent() []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.Message(nil), t.sent...)
}
