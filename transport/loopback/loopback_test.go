package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsbridge/transport"
)

func TestTransmitReportsBothSignals(t *testing.T) {
	lt := New()
	sent := make(chan transport.ResultCode, 1)
	delivered := make(chan transport.ResultCode, 1)

	err := lt.Transmit(context.Background(), transport.Message{ID: "a", Destination: "+1", Payload: "hi"}, transport.Callbacks{
		OnSent:      func(c transport.ResultCode) { sent <- c },
		OnDelivered: func(c transport.ResultCode) { delivered <- c },
	})
	require.NoError(t, err)

	select {
	case c := <-sent:
		assert.Equal(t, transport.Ok, c)
	case <-time.After(time.Second):
		t.Fatal("sent callback not invoked")
	}
	select {
	case c := <-delivered:
		assert.Equal(t, transport.Ok, c)
	case <-time.After(time.Second):
		t.Fatal("delivered callback not invoked")
	}
	require.Len(t, lt.Sent(), 1)
	assert.Equal(t, "hi", lt.Sent()[0].Payload)
}

func TestTransmitFailureSkipsDelivery(t *testing.T) {
	lt := New()
	lt.SentCode = transport.NoService
	sent := make(chan transport.ResultCode, 1)
	delivered := make(chan transport.ResultCode, 1)

	require.NoError(t, lt.Transmit(context.Background(), transport.Message{ID: "a"}, transport.Callbacks{
		OnSent:      func(c transport.ResultCode) { sent <- c },
		OnDelivered: func(c transport.ResultCode) { delivered <- c },
	}))

	assert.Equal(t, transport.NoService, <-sent)
	select {
	case <-delivered:
		t.Fatal("delivered callback after failed send")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransmitHonoursCanceledContext(t *testing.T) {
	lt := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := lt.Transmit(ctx, transport.Message{ID: "a"}, transport.Callbacks{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, lt.Sent())
}
