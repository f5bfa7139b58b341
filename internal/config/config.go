package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSTUNServers is used when CALLKIT_STUN_SERVERS is not set. STUN only —
// no TURN relay is configured, so peers behind symmetric NATs may fail to
// connect (documented limitation).
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config holds the engine configuration.
type Config struct {
	APIURL    string
	Token     string
	UserID    string
	SignalURL string

	STUNServers []string

	PollInterval time.Duration
	RingTimeout  time.Duration
	// NegotiationTimeout bounds the time a call may sit in negotiating.
	// Zero disables it.
	NegotiationTimeout time.Duration

	RelayAddr string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		APIURL:             os.Getenv("CALLKIT_API_URL"),
		Token:              os.Getenv("CALLKIT_TOKEN"),
		UserID:             os.Getenv("CALLKIT_USER_ID"),
		SignalURL:          os.Getenv("CALLKIT_SIGNAL_URL"),
		STUNServers:        DefaultSTUNServers,
		PollInterval:       3 * time.Second,
		RingTimeout:        60 * time.Second,
		NegotiationTimeout: 0,
		RelayAddr:          ":8787",
	}

	if cfg.APIURL == "" {
		return nil, fmt.Errorf("CALLKIT_API_URL environment variable is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("CALLKIT_TOKEN environment variable is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("CALLKIT_USER_ID environment variable is required")
	}
	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("CALLKIT_SIGNAL_URL environment variable is required")
	}

	if v := os.Getenv("CALLKIT_STUN_SERVERS"); v != "" {
		var servers []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		if len(servers) == 0 {
			return nil, fmt.Errorf("CALLKIT_STUN_SERVERS is set but empty")
		}
		cfg.STUNServers = servers
	}

	var err error
	if cfg.PollInterval, err = duration("CALLKIT_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.RingTimeout, err = duration("CALLKIT_RING_TIMEOUT", cfg.RingTimeout); err != nil {
		return nil, err
	}
	if cfg.NegotiationTimeout, err = duration("CALLKIT_NEGOTIATION_TIMEOUT", cfg.NegotiationTimeout); err != nil {
		return nil, err
	}

	if v := os.Getenv("CALLKIT_RELAY_ADDR"); v != "" {
		cfg.RelayAddr = v
	}

	return cfg, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", key, v)
	}
	return d, nil
}
