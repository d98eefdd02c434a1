package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBool(t *testing.T) {
	t.Setenv("BOOL_TRUE", "true")
	t.Setenv("BOOL_FALSE", "false")
	t.Setenv("BOOL_NOISE", "yes")

	if !Bool("BOOL_TRUE", false) {
		t.Fatalf("expected true")
	}
	if Bool("BOOL_FALSE", true) {
		t.Fatalf("expected false override")
	}
	if !Bool("BOOL_MISSING", true) {
		t.Fatalf("expected default true for missing key")
	}
	if Bool("BOOL_NOISE", true) != true {
		t.Fatalf("unexpected override for unsupported values")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("SMSBRIDGE_TEST_INT", "")
	if got := Int("SMSBRIDGE_TEST_INT", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
	t.Setenv("SMSBRIDGE_TEST_INT", "3")
	if got := Int("SMSBRIDGE_TEST_INT", 7); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	t.Setenv("SMSBRIDGE_TEST_INT", "noise")
	if got := Int("SMSBRIDGE_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback for invalid value, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("SMSBRIDGE_TEST_DUR", "250ms")
	if got := Duration("SMSBRIDGE_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
	t.Setenv("SMSBRIDGE_TEST_DUR", "-1s")
	if got := Duration("SMSBRIDGE_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("expected default for negative value, got %v", got)
	}
	t.Setenv("SMSBRIDGE_TEST_DUR", "soon")
	if got := Duration("SMSBRIDGE_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("expected default for invalid value, got %v", got)
	}
}

func TestStringAndList(t *testing.T) {
	t.Setenv("SMSBRIDGE_TEST_STR", "  value ")
	if got := String("SMSBRIDGE_TEST_STR", "def"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	if got := String("SMSBRIDGE_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("expected default, got %q", got)
	}

	t.Setenv("SMSBRIDGE_TEST_LIST", "a, b,,c ")
	got := List("SMSBRIDGE_TEST_LIST", ",")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected list %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("SMSBRIDGE_DOTENV_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("SMSBRIDGE_DOTENV_VALUE", "")
	os.Unsetenv("SMSBRIDGE_DOTENV_VALUE")

	if err := Load(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := os.Getenv("SMSBRIDGE_DOTENV_VALUE"); got != "from-file" {
		t.Fatalf("expected value from dotenv file, got %q", got)
	}
}

func TestAddrAllowed(t *testing.T) {
	t.Setenv("SMSBRIDGE_ALLOW_NETWORKS", "203.0.113.0/24, 198.51.100.7, bogus")
	networks := AllowedNetworks()
	if len(networks) != 2 {
		t.Fatalf("expected 2 networks, got %d", len(networks))
	}
	if !AddrAllowed(&net.TCPAddr{IP: net.ParseIP("203.0.113.10"), Port: 4000}, networks) {
		t.Fatalf("expected address within network to be allowed")
	}
	if !AddrAllowed(&net.TCPAddr{IP: net.ParseIP("198.51.100.7")}, networks) {
		t.Fatalf("expected single host entry to be allowed")
	}
	if AddrAllowed(&net.TCPAddr{IP: net.ParseIP("192.0.2.1")}, networks) {
		t.Fatalf("expected address outside allowlist to be blocked")
	}
	if !AddrAllowed(&net.TCPAddr{IP: net.ParseIP("192.0.2.1")}, nil) {
		t.Fatalf("expected empty allowlist to admit everyone")
	}
}

func TestHostname(t *testing.T) {
	t.Setenv("SMSBRIDGE_HOSTNAME", "bridge.test")
	if got := Hostname(); got != "bridge.test" {
		t.Fatalf("expected configured hostname, got %q", got)
	}
	t.Setenv("SMSBRIDGE_HOSTNAME", "")
	if got := Hostname(); got == "" {
		t.Fatalf("expected a fallback hostname")
	}
}
