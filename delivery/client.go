package delivery

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

var smtpPort = "25"

type envelope struct {
	helo     string
	from     string
	to       string
	data     []byte
	username string
	password string
}

var deliverFunc = deliver

// deliver performs one SMTP transaction against addr.
func deliver(ctx context.Context, addr string, env envelope) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("address %q: %w", addr, err)
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Minute)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if err := client.Hello(env.helo); err != nil {
		return fmt.Errorf("helo: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if env.username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("auth: server %s does not offer AUTH", host)
		}
		if err := client.Auth(sasl.NewPlainClient("", env.username, env.password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(env.from, nil); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(env.to, nil); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(env.data); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}
