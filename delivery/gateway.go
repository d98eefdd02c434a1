// Package delivery implements an email-to-SMS gateway transport: each message
// is mailed as plain text to <number>@<gateway domain>, either straight to the
// gateway's MX hosts or through an authenticated relay.
package delivery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"smsbridge/internal/address"
	"smsbridge/internal/config"
	"smsbridge/internal/dkim"
	"smsbridge/internal/logging"
	"smsbridge/queue"
	"smsbridge/transport"
)

var errNotConfigured = errors.New("delivery: gateway domain and sender are required")

// Gateway is a transport.Transport backed by SMTP.
type Gateway struct {
	// Domain is the carrier gateway domain, e.g. "txt.example.net".
	Domain string
	From   string
	// Relay is an optional host:port smart host; MX lookup is used otherwise.
	Relay    string
	Username string
	Password string
	HeloName string
	Timeout  time.Duration
	Signer   *dkim.Signer
	Logger   *zap.Logger
	// Queue bounds concurrent submissions. Without one each send runs on its
	// own goroutine.
	Queue *queue.Manager
}

// GatewayFromEnv reads SMSBRIDGE_GATEWAY_* settings.
func GatewayFromEnv(logger *zap.Logger) (*Gateway, error) {
	signer, err := dkim.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		Domain:   config.String("SMSBRIDGE_GATEWAY_DOMAIN", ""),
		From:     config.String("SMSBRIDGE_GATEWAY_FROM", ""),
		Relay:    config.String("SMSBRIDGE_GATEWAY_RELAY", ""),
		Username: config.String("SMSBRIDGE_GATEWAY_USERNAME", ""),
		Password: config.String("SMSBRIDGE_GATEWAY_PASSWORD", ""),
		HeloName: config.Hostname(),
		Timeout:  config.Duration("SMSBRIDGE_GATEWAY_TIMEOUT", 2*time.Minute),
		Signer:   signer,
		Logger:   logger,
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	g.Queue = queue.NewManager(
		config.Int("SMSBRIDGE_GATEWAY_QUEUE", 256),
		config.Int("SMSBRIDGE_GATEWAY_WORKERS", 4),
		logger,
	)
	g.Queue.Start()
	return g, nil
}

// Close stops the submission queue, waiting for accepted sends to finish.
func (g *Gateway) Close() error {
	if g.Queue == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return g.Queue.Stop(ctx)
}

func (g *Gateway) validate() error {
	if g.Domain == "" || g.From == "" {
		return errNotConfigured
	}
	from, err := address.ParseMailbox(g.From)
	if err != nil {
		return fmt.Errorf("delivery: sender: %w", err)
	}
	g.From = from
	if g.Relay != "" {
		if _, _, err := net.SplitHostPort(g.Relay); err != nil {
			return fmt.Errorf("delivery: relay %q: %w", g.Relay, err)
		}
	}
	return nil
}

// Transmit resolves the gateway mailbox synchronously and mails the payload in
// the background. Gateways never confirm delivery, so OnDelivered is not used.
func (g *Gateway) Transmit(ctx context.Context, msg transport.Message, cb transport.Callbacks) error {
	if g.Domain == "" || g.From == "" {
		return errNotConfigured
	}
	rcpt, err := address.GatewayAddress(msg.Destination, g.Domain)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	log := logging.OrNop(g.Logger).With(zap.String("id", msg.ID), zap.String("rcpt", rcpt))
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		code := g.send(ctx, msg, rcpt, log)
		if cb.OnSent != nil {
			cb.OnSent(code)
		}
	}

	if g.Queue == nil {
		go run(context.WithoutCancel(ctx))
		return nil
	}
	if err := g.Queue.Enqueue(queue.Job{ID: msg.ID, Run: run}); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	return nil
}

func (g *Gateway) send(ctx context.Context, msg transport.Message, rcpt string, log *zap.Logger) transport.ResultCode {
	data, err := g.buildMessage(msg, rcpt, time.Now())
	if err != nil {
		log.Warn("gateway message build failed", zap.Error(err))
		return transport.NullPdu
	}

	env := envelope{
		helo:     g.HeloName,
		from:     g.From,
		to:       rcpt,
		data:     data,
		username: g.Username,
		password: g.Password,
	}
	if env.helo == "" {
		env.helo = config.Hostname()
	}

	if g.Relay != "" {
		err = deliverFunc(ctx, g.Relay, env)
	} else {
		err = g.deliverMX(ctx, env)
	}
	if err != nil {
		log.Warn("gateway delivery failed", zap.Error(err))
		return classify(err)
	}
	log.Debug("gateway accepted message")
	return transport.Ok
}

func (g *Gateway) deliverMX(ctx context.Context, env envelope) error {
	records, err := ResolveMX(g.Domain)
	if err != nil {
		return err
	}
	var lastErr error
	for _, mx := range records {
		if lastErr = deliverFunc(ctx, net.JoinHostPort(mx.Host, smtpPort), env); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("delivery failed: %w", lastErr)
}

// classify maps a delivery error to a transport result code. SMTP replies mean
// the gateway refused the message; anything below that is treated as having
// no service.
func classify(err error) transport.ResultCode {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return transport.GenericFailure
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.Is(err, errNoMX) || errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return transport.NoService
	}
	return transport.GenericFailure
}

func (g *Gateway) buildMessage(msg transport.Message, rcpt string, now time.Time) ([]byte, error) {
	if strings.TrimSpace(msg.Payload) == "" {
		return nil, errors.New("empty payload")
	}
	fromDomain, err := address.Domain(g.From)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(sanitizeHeader(v))
		b.WriteString("\r\n")
	}
	header("From", g.From)
	header("To", rcpt)
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", "<"+messageToken(msg.ID)+"@"+fromDomain+">")
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Payload, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")

	return g.Signer.Sign(b.Bytes(), g.From)
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

func messageToken(id string) string {
	if id != "" && !strings.ContainsAny(id, "<>@ \t\r\n") {
		return id
	}
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
