// Package transport defines the boundary between the tracking core and the
// component that actually transmits a message, plus the result-code mapping
// and the completion handle registry used to route results back.
package transport

import (
	"context"
	"fmt"

	"smsbridge/status"
)

// ResultCode is the completion code reported by a transport. The known values
// follow the platform telephony codes; any other value is an Other(code).
type ResultCode int

const (
	Ok             ResultCode = -1
	Canceled       ResultCode = 0
	GenericFailure ResultCode = 1
	RadioOff       ResultCode = 2
	NullPdu        ResultCode = 3
	NoService      ResultCode = 4
)

// Other wraps a transport-specific code outside the known set.
func Other(code int) ResultCode { return ResultCode(code) }

func (c ResultCode) String() string {
	switch c {
	case Ok:
		return "ok"
	case Canceled:
		return "canceled"
	case GenericFailure:
		return "generic_failure"
	case RadioOff:
		return "radio_off"
	case NullPdu:
		return "null_pdu"
	case NoService:
		return "no_service"
	}
	return fmt.Sprintf("other(%d)", int(c))
}

// SentOutcome maps the code of a sent signal to a terminal status and detail.
// It is total: unknown codes become a failure naming the code.
func SentOutcome(code ResultCode) (status.Status, string) {
	switch code {
	case Ok:
		return status.Sent, ""
	case GenericFailure:
		return status.Failed, "Generic failure"
	case NoService:
		return status.Failed, "No service"
	case NullPdu:
		return status.Failed, "Null PDU"
	case RadioOff:
		return status.Failed, "Radio off"
	}
	return status.Failed, fmt.Sprintf("Unknown error: %d", int(code))
}

// DeliveredOutcome maps the code of a delivered signal.
func DeliveredOutcome(code ResultCode) (status.Status, string) {
	switch code {
	case Ok:
		return status.Delivered, ""
	case Canceled:
		return status.Failed, "Delivery failed"
	}
	return SentOutcome(code)
}

// Message is one single-shot send.
type Message struct {
	ID          string
	Destination string
	Payload     string
	// Slot selects the SIM or source identity; transports may ignore it.
	Slot int
}

// Callbacks receive the asynchronous results of a Transmit call. Either may
// be invoked from any goroutine, at most once each, and OnDelivered may never
// be invoked at all.
type Callbacks struct {
	OnSent      func(ResultCode)
	OnDelivered func(ResultCode)
}

// Transport hands a message to the network. Transmit must not wait for the
// completion signals; an error means the message was not submitted.
type Transport interface {
	Transmit(ctx context.Context, msg Message, cb Callbacks) error
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, msg Message, cb Callbacks) error

// Transmit calls f.
func (f Func) Transmit(ctx context.Context, msg Message, cb Callbacks) error {
	return f(ctx, msg, cb)
}
