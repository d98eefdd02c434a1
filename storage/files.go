// Package storage writes finished send records to a diagnostic spool. The
// spool is write-only: nothing in smsbridge reads it back.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is one finished send.
type Entry struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	Payload     string    `json:"payload"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// Spool stores entries as JSON files under dir/<yyyy-mm-dd>/. A nil *Spool
// discards everything.
type Spool struct {
	dir string
}

// NewSpool returns a spool rooted at dir, or nil when dir is empty.
func NewSpool(dir string) *Spool {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	return &Spool{dir: dir}
}

// Dir returns the spool root.
func (s *Spool) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Save writes e. The destination only appears hashed in the file name.
func (s *Spool) Save(e Entry) error {
	if s == nil {
		return nil
	}
	safeID, err := sanitizeComponent(e.ID)
	if err != nil {
		return err
	}
	finished := e.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	dir := filepath.Join(s.dir, finished.UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	filename := filepath.Join(dir, fmt.Sprintf("%s_%s.json", safeID, hashDestination(e.Destination)))
	return os.WriteFile(filename, payload, 0o600)
}

func sanitizeComponent(v string) (string, error) {
	if strings.ContainsAny(v, "/\\") || strings.Contains(v, "..") {
		return "", errors.New("invalid identifier")
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("empty identifier")
	}
	return v, nil
}

func hashDestination(dest string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(dest)))
	return hex.EncodeToString(sum[:8])
}
