package smpp

import (
	"errors"
	"net"
	"time"

	"smsbridge/internal/config"
)

// Config holds the SMSC session settings.
type Config struct {
	Addr       string
	SystemID   string
	Password   string
	SystemType string
	// Sources are the originating addresses, indexed by SIM slot.
	Sources        []string
	EnquireLink    time.Duration
	RequestTimeout time.Duration
	Window         int
	ReceiptCache   int
}

// ConfigFromEnv reads SMSBRIDGE_SMPP_* settings.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Addr:           config.String("SMSBRIDGE_SMPP_ADDR", ""),
		SystemID:       config.String("SMSBRIDGE_SMPP_SYSTEM_ID", ""),
		Password:       config.String("SMSBRIDGE_SMPP_PASSWORD", ""),
		SystemType:     config.String("SMSBRIDGE_SMPP_SYSTEM_TYPE", ""),
		Sources:        config.List("SMSBRIDGE_SMPP_SOURCES", ","),
		EnquireLink:    config.Duration("SMSBRIDGE_SMPP_ENQUIRE_LINK", 30*time.Second),
		RequestTimeout: config.Duration("SMSBRIDGE_SMPP_REQUEST_TIMEOUT", 10*time.Second),
		Window:         config.Int("SMSBRIDGE_SMPP_WINDOW", 10),
		ReceiptCache:   config.Int("SMSBRIDGE_SMPP_RECEIPT_CACHE", 4096),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Addr == "" {
		return errors.New("smpp: SMSBRIDGE_SMPP_ADDR is required")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return errors.New("smpp: SMSBRIDGE_SMPP_ADDR must be host:port")
	}
	if c.SystemID == "" {
		return errors.New("smpp: SMSBRIDGE_SMPP_SYSTEM_ID is required")
	}
	if c.Window <= 0 || c.Window > 255 {
		return errors.New("smpp: window must be between 1 and 255")
	}
	return nil
}

// source returns the originating address for slot, falling back to the
// first configured source.
func (c Config) source(slot int) string {
	if slot >= 0 && slot < len(c.Sources) {
		return c.Sources[slot]
	}
	if len(c.Sources) > 0 {
		return c.Sources[0]
	}
	return ""
}
