// Package address normalises SMS destinations and the email addresses used by
// the email-to-SMS gateway.
package address

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

var (
	// ErrInvalidNumber indicates the destination is not a dialable number.
	ErrInvalidNumber = errors.New("invalid phone number")
	// ErrInvalidAddress indicates an email address failed validation.
	ErrInvalidAddress = errors.New("invalid email address")
)

const (
	minDigits = 3
	maxDigits = 15
)

// ParseNumber strips formatting from a destination such as
// "+1 (555) 123-4567" and returns "+15551234567". Short codes are accepted.
func ParseNumber(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNumber)
	}

	var b strings.Builder
	digits := 0
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected %q", ErrInvalidNumber, r)
		}
	}
	if digits < minDigits || digits > maxDigits {
		return "", fmt.Errorf("%w: %d digits", ErrInvalidNumber, digits)
	}
	return b.String(), nil
}

// GatewayAddress builds the mailbox an email-to-SMS gateway expects for
// number, e.g. "5551234567@txt.example.net".
func GatewayAddress(number, domain string) (string, error) {
	normalized, err := ParseNumber(number)
	if err != nil {
		return "", err
	}
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return "", fmt.Errorf("%w: empty gateway domain", ErrInvalidAddress)
	}
	return ParseMailbox(strings.TrimPrefix(normalized, "+") + "@" + domain)
}

// ParseMailbox validates a bare or angle-bracketed address and lower-cases it.
func ParseMailbox(addr string) (string, error) {
	addr = strings.Trim(strings.TrimSpace(addr), "<>")
	if addr == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return strings.ToLower(parsed.Address), nil
}

// Domain returns the domain component of an email address.
func Domain(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at == -1 || at == len(address)-1 {
		return "", fmt.Errorf("%w: missing domain", ErrInvalidAddress)
	}

	domain := strings.TrimSpace(strings.TrimSuffix(address[at+1:], "."))
	if domain == "" {
		return "", fmt.Errorf("%w: empty domain", ErrInvalidAddress)
	}
	if strings.ContainsAny(domain, " \t") {
		return "", fmt.Errorf("%w: whitespace in domain", ErrInvalidAddress)
	}
	return strings.ToLower(domain), nil
}
