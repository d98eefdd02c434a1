package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsbridge/queue"
	"smsbridge/transport"
)

func stubDeliver(t *testing.T, fn func(ctx context.Context, addr string, env envelope) error) {
	t.Helper()
	original := deliverFunc
	deliverFunc = fn
	t.Cleanup(func() { deliverFunc = original })
}

func stubMX(t *testing.T, fn func(string) ([]*net.MX, error)) {
	t.Helper()
	original := mxLookup
	mxLookup = fn
	t.Cleanup(func() { mxLookup = original })
}

func awaitCode(t *testing.T, ch <-chan transport.ResultCode) transport.ResultCode {
	t.Helper()
	select {
	case code := <-ch:
		return code
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sent callback")
		return transport.Other(-99)
	}
}

func testGateway() *Gateway {
	return &Gateway{
		Domain:   "txt.example.net",
		From:     "bridge@example.com",
		HeloName: "bridge.test",
		Timeout:  time.Second,
	}
}

func TestGatewayTransmitViaRelay(t *testing.T) {
	var got envelope
	var gotAddr string
	stubDeliver(t, func(ctx context.Context, addr string, env envelope) error {
		gotAddr = addr
		got = env
		return nil
	})

	g := testGateway()
	g.Relay = "relay.example.com:587"
	g.Username = "user"
	g.Password = "secret"

	codes := make(chan transport.ResultCode, 1)
	err := g.Transmit(context.Background(), transport.Message{ID: "abc", Destination: "+1 (555) 123-4567", Payload: "hello"},
		transport.Callbacks{OnSent: func(c transport.ResultCode) { codes <- c }})
	require.NoError(t, err)

	assert.Equal(t, transport.Ok, awaitCode(t, codes))
	assert.Equal(t, "relay.example.com:587", gotAddr)
	assert.Equal(t, "15551234567@txt.example.net", got.to)
	assert.Equal(t, "bridge@example.com", got.from)
	assert.Equal(t, "user", got.username)
	assert.Contains(t, string(got.data), "Message-ID: <abc@example.com>")
	assert.True(t, strings.HasSuffix(string(got.data), "hello\r\n"))
}

func TestGatewayTransmitViaMX(t *testing.T) {
	stubMX(t, func(domain string) ([]*net.MX, error) {
		assert.Equal(t, "txt.example.net", domain)
		return []*net.MX{{Host: "mx1.example.net.", Pref: 10}, {Host: "mx2.example.net.", Pref: 20}}, nil
	})
	var tried []string
	stubDeliver(t, func(ctx context.Context, addr string, env envelope) error {
		tried = append(tried, addr)
		if len(tried) == 1 {
			return fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Err: errors.New("refused")})
		}
		return nil
	})

	codes := make(chan transport.ResultCode, 1)
	require.NoError(t, testGateway().Transmit(context.Background(), transport.Message{ID: "1", Destination: "5551234", Payload: "hi"},
		transport.Callbacks{OnSent: func(c transport.ResultCode) { codes <- c }}))

	assert.Equal(t, transport.Ok, awaitCode(t, codes))
	assert.Equal(t, []string{"mx1.example.net:25", "mx2.example.net:25"}, tried)
}

func TestGatewayTransmitThroughQueue(t *testing.T) {
	stubDeliver(t, func(context.Context, string, envelope) error { return nil })
	g := testGateway()
	g.Relay = "relay.example.com:25"
	g.Queue = queue.NewManager(1, 1, nil)

	codes := make(chan transport.ResultCode, 2)
	cb := transport.Callbacks{OnSent: func(c transport.ResultCode) { codes <- c }}
	msg := transport.Message{ID: "1", Destination: "5551234", Payload: "hi"}

	require.NoError(t, g.Transmit(context.Background(), msg, cb))
	err := g.Transmit(context.Background(), msg, cb)
	assert.ErrorIs(t, err, queue.ErrFull)

	g.Queue.Start()
	assert.Equal(t, transport.Ok, awaitCode(t, codes))
	require.NoError(t, g.Close())

	err = g.Transmit(context.Background(), msg, cb)
	assert.ErrorIs(t, err, queue.ErrStopped)
}

func TestGatewayTransmitNoMX(t *testing.T) {
	stubMX(t, func(string) ([]*net.MX, error) { return nil, nil })
	stubDeliver(t, func(context.Context, string, envelope) error {
		t.Errorf("deliver must not be called without MX hosts")
		return nil
	})

	codes := make(chan transport.ResultCode, 1)
	require.NoError(t, testGateway().Transmit(context.Background(), transport.Message{ID: "1", Destination: "5551234", Payload: "hi"},
		transport.Callbacks{OnSent: func(c transport.ResultCode) { codes <- c }}))
	assert.Equal(t, transport.NoService, awaitCode(t, codes))
}

func TestGatewayTransmitEmptyPayload(t *testing.T) {
	stubDeliver(t, func(context.Context, string, envelope) error {
		t.Errorf("deliver must not be called for an empty payload")
		return nil
	})
	g := testGateway()
	g.Relay = "relay.example.com:25"

	codes := make(chan transport.ResultCode, 1)
	require.NoError(t, g.Transmit(context.Background(), transport.Message{ID: "1", Destination: "5551234", Payload: "  "},
		transport.Callbacks{OnSent: func(c transport.ResultCode) { codes <- c }}))
	assert.Equal(t, transport.NullPdu, awaitCode(t, codes))
}

func TestGatewayTransmitSyncErrors(t *testing.T) {
	err := testGateway().Transmit(context.Background(), transport.Message{Destination: "not a number"}, transport.Callbacks{})
	assert.Error(t, err)

	err = (&Gateway{}).Transmit(context.Background(), transport.Message{Destination: "5551234"}, transport.Callbacks{})
	assert.ErrorIs(t, err, errNotConfigured)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want transport.ResultCode
	}{
		{"smtp reply", fmt.Errorf("rcpt to: %w", &smtp.SMTPError{Code: 550, Message: "no such user"}), transport.GenericFailure},
		{"no mx", fmt.Errorf("MX lookup failed for x: %w", errNoMX), transport.NoService},
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, transport.NoService},
		{"dial", fmt.Errorf("dial: %w", &net.OpError{Op: "dial", Err: errors.New("refused")}), transport.NoService},
		{"other", errors.New("boom"), transport.GenericFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestBuildMessage(t *testing.T) {
	g := testGateway()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	data, err := g.buildMessage(transport.Message{ID: "m1", Payload: "line one\nline two"}, "5551234@txt.example.net", now)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.HasPrefix(text, "From: bridge@example.com\r\nTo: 5551234@txt.example.net\r\n"))
	assert.Contains(t, text, "Date: "+now.Format(time.RFC1123Z)+"\r\n")
	assert.Contains(t, text, "\r\n\r\nline one\r\nline two\r\n")
	assert.NotContains(t, text, "DKIM-Signature")
}

func TestMessageToken(t *testing.T) {
	assert.Equal(t, "abc-123", messageToken("abc-123"))
	token := messageToken("bad<id>")
	assert.Len(t, token, 16)
	assert.NotEqual(t, token, messageToken(""))
}

func TestGatewayFromEnv(t *testing.T) {
	for _, k := range []string{"SMSBRIDGE_DKIM_SELECTOR", "SMSBRIDGE_DKIM_KEY_PATH", "SMSBRIDGE_DKIM_PRIVATE_KEY", "SMSBRIDGE_DKIM_DOMAIN"} {
		t.Setenv(k, "")
	}
	t.Setenv("SMSBRIDGE_GATEWAY_DOMAIN", "txt.example.net")
	t.Setenv("SMSBRIDGE_GATEWAY_FROM", "Bridge@Example.COM")
	t.Setenv("SMSBRIDGE_GATEWAY_RELAY", "")
	t.Setenv("SMSBRIDGE_GATEWAY_TIMEOUT", "5s")

	g, err := GatewayFromEnv(nil)
	require.NoError(t, err)
	assert.Equal(t, "bridge@example.com", g.From)
	assert.Equal(t, 5*time.Second, g.Timeout)
	assert.Nil(t, g.Signer)
	require.NotNil(t, g.Queue)
	require.NoError(t, g.Close())

	t.Setenv("SMSBRIDGE_GATEWAY_RELAY", "no-port")
	_, err = GatewayFromEnv(nil)
	assert.Error(t, err)

	t.Setenv("SMSBRIDGE_GATEWAY_DOMAIN", "")
	_, err = GatewayFromEnv(nil)
	assert.ErrorIs(t, err, errNotConfigured)
}
