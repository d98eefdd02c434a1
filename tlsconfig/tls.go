// Package tlsconfig builds the TLS configuration of the channel listener.
package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"smsbridge/internal/audit"
	"smsbridge/internal/config"
)

// ErrTLSDisabled is returned when SMSBRIDGE_TLS_DISABLE is true.
var ErrTLSDisabled = errors.New("tls disabled")

// ErrIncompletePair is returned when only one of SMSBRIDGE_TLS_CERT and
// SMSBRIDGE_TLS_KEY is set.
var ErrIncompletePair = errors.New("tls: certificate and key must be set together")

// LoadTLSConfig loads SMSBRIDGE_TLS_CERT and SMSBRIDGE_TLS_KEY. Without either
// a self-signed certificate for the local hostname is generated.
func LoadTLSConfig() (*tls.Config, error) {
	if config.Bool("SMSBRIDGE_TLS_DISABLE", false) {
		audit.Log("channel TLS disabled by configuration")
		return nil, ErrTLSDisabled
	}

	certFile := config.String("SMSBRIDGE_TLS_CERT", "")
	keyFile := config.String("SMSBRIDGE_TLS_KEY", "")

	if (certFile == "") != (keyFile == "") {
		return nil, ErrIncompletePair
	}

	var cert tls.Certificate
	var err error
	if certFile == "" {
		audit.Log("channel TLS using an ephemeral self-signed certificate")
		cert, err = ephemeralCertificate(config.Hostname())
	} else {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
	}
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return &cert, nil
		},
	}, nil
}

func ephemeralCertificate(host string) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host, Organization: []string{"smsbridge"}},
		DNSNames:              []string{host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
