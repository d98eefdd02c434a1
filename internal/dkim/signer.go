package dkim

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"

	"smsbridge/internal/address"
)

var defaultHeaderKeys = []string{"from", "to", "subject", "date", "message-id"}

// Signer adds DKIM signatures to gateway messages. A nil *Signer passes
// messages through unchanged.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

// Options configures New.
type Options struct {
	Selector string
	// Domain overrides the domain taken from the sender address.
	Domain     string
	PrivateKey []byte
	HeaderKeys []string
}

// New parses the PEM key in opts and returns a signer.
func New(opts Options) (*Signer, error) {
	if strings.TrimSpace(opts.Selector) == "" {
		return nil, errors.New("dkim: selector is required")
	}
	key, err := parsePrivateKey(opts.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	headerKeys := opts.HeaderKeys
	if len(headerKeys) == 0 {
		headerKeys = defaultHeaderKeys
	}
	return &Signer{
		domain:     strings.ToLower(strings.TrimSpace(opts.Domain)),
		selector:   strings.TrimSpace(opts.Selector),
		key:        key,
		headerKeys: headerKeys,
	}, nil
}

// LoadFromEnv builds a signer from SMSBRIDGE_DKIM_SELECTOR, SMSBRIDGE_DKIM_DOMAIN
// and either SMSBRIDGE_DKIM_KEY_PATH or SMSBRIDGE_DKIM_PRIVATE_KEY. It returns
// nil, nil when none of them are set.
func LoadFromEnv() (*Signer, error) {
	selector := strings.TrimSpace(os.Getenv("SMSBRIDGE_DKIM_SELECTOR"))
	keyPath := strings.TrimSpace(os.Getenv("SMSBRIDGE_DKIM_KEY_PATH"))
	inlineKey := os.Getenv("SMSBRIDGE_DKIM_PRIVATE_KEY")
	domain := os.Getenv("SMSBRIDGE_DKIM_DOMAIN")

	if selector == "" && keyPath == "" && inlineKey == "" && strings.TrimSpace(domain) == "" {
		return nil, nil
	}

	var pemData []byte
	switch {
	case inlineKey != "":
		pemData = []byte(inlineKey)
	case keyPath != "":
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, errors.New("dkim: set SMSBRIDGE_DKIM_KEY_PATH or SMSBRIDGE_DKIM_PRIVATE_KEY")
	}
	return New(Options{Selector: selector, Domain: domain, PrivateKey: pemData})
}

// Selector returns the configured selector.
func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}
	return s.selector
}

// Sign returns message with a DKIM-Signature header. Messages that already
// carry one are returned untouched.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		d, err := address.Domain(strings.Trim(strings.TrimSpace(from), "<>"))
		if err != nil {
			return nil, fmt.Errorf("dkim: signing domain: %w", err)
		}
		domain = d
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(crlf(message)), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			return nil, errors.New("no private key found in PEM data")
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, errors.New("unsupported private key type in PKCS#8 container")
			}
			return signer, nil
		}
		pemData = rest
	}
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) || bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}

func crlf(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
