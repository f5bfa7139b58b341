package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CALLKIT_API_URL", "https://platform.example.com")
	t.Setenv("CALLKIT_TOKEN", "tok")
	t.Setenv("CALLKIT_USER_ID", "alice")
	t.Setenv("CALLKIT_SIGNAL_URL", "ws://localhost:8787/ws")
	// Clear the optional knobs so one test cannot leak into another.
	t.Setenv("CALLKIT_STUN_SERVERS", "")
	t.Setenv("CALLKIT_POLL_INTERVAL", "")
	t.Setenv("CALLKIT_RING_TIMEOUT", "")
	t.Setenv("CALLKIT_NEGOTIATION_TIMEOUT", "")
	t.Setenv("CALLKIT_RELAY_ADDR", "")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UserID != "alice" || cfg.APIURL != "https://platform.example.com" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.STUNServers) != len(DefaultSTUNServers) {
		t.Fatalf("stun servers = %v", cfg.STUNServers)
	}
	if cfg.PollInterval != 3*time.Second || cfg.RingTimeout != 60*time.Second {
		t.Fatalf("intervals = %v / %v", cfg.PollInterval, cfg.RingTimeout)
	}
	if cfg.NegotiationTimeout != 0 {
		t.Fatalf("negotiation timeout default = %v, want disabled", cfg.NegotiationTimeout)
	}
	if cfg.RelayAddr != ":8787" {
		t.Fatalf("relay addr = %q", cfg.RelayAddr)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("CALLKIT_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CALLKIT_STUN_SERVERS", "stun:one.example.com:3478, stun:two.example.com:3478")
	t.Setenv("CALLKIT_RING_TIMEOUT", "45s")
	t.Setenv("CALLKIT_NEGOTIATION_TIMEOUT", "90s")
	t.Setenv("CALLKIT_RELAY_ADDR", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[1] != "stun:two.example.com:3478" {
		t.Fatalf("stun servers = %v", cfg.STUNServers)
	}
	if cfg.RingTimeout != 45*time.Second || cfg.NegotiationTimeout != 90*time.Second {
		t.Fatalf("timeouts = %v / %v", cfg.RingTimeout, cfg.NegotiationTimeout)
	}
	if cfg.RelayAddr != ":9999" {
		t.Fatalf("relay addr = %q", cfg.RelayAddr)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("CALLKIT_RING_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestLoadNegativeDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("CALLKIT_POLL_INTERVAL", "-3s")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
