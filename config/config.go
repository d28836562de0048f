// Package config carries every tunable the chat transport consumes. Values
// come from the environment with defaults that match the production widget;
// the agent console overrides the reconnect budget at bind time.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	// HTTP / realtime endpoints of the chat backend.
	BaseURL     string
	RealtimeURL string

	// Realtime channel.
	ReconnectAttempts int           // failed dials tolerated before giving up
	ReconnectDelay    time.Duration // initial backoff between dials
	ReconnectDelayMax time.Duration // backoff cap
	ConnectTimeout    time.Duration // websocket handshake deadline

	// Polling channel. The request timeout is deliberately shorter than the
	// realtime connect timeout so a dead socket is downgraded before the
	// user perceives the UI as stuck.
	PollInterval       time.Duration
	PollRequestTimeout time.Duration
	PollRetryCount     int

	// Arbiter.
	FailureThreshold int  // not-connected observations before demotion
	AllowFallback    bool // whether demotion to polling is permitted

	TypingTimeout time.Duration // local typing-indicator expiry

	// Reference backend only.
	Port      string
	JWTSecret string
}

// Load reads configuration from the environment. A .env file next to the
// binary is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:            getEnv("CHAT_BASE_URL", "http://localhost:8080"),
		RealtimeURL:        getEnv("CHAT_REALTIME_URL", "ws://localhost:8080/ws"),
		ReconnectAttempts:  getEnvInt("CHAT_WS_RECONNECT_ATTEMPTS", 3),
		ReconnectDelay:     getEnvDuration("CHAT_WS_RECONNECT_DELAY", time.Second),
		ReconnectDelayMax:  getEnvDuration("CHAT_WS_RECONNECT_DELAY_MAX", 5*time.Second),
		ConnectTimeout:     getEnvDuration("CHAT_WS_CONNECT_TIMEOUT", 10*time.Second),
		PollInterval:       getEnvDuration("CHAT_POLL_INTERVAL", 5*time.Second),
		PollRequestTimeout: getEnvDuration("CHAT_POLL_REQUEST_TIMEOUT", 4*time.Second),
		PollRetryCount:     getEnvInt("CHAT_POLL_RETRY_COUNT", 2),
		FailureThreshold:   getEnvInt("CHAT_FAILURE_THRESHOLD", 2),
		AllowFallback:      getEnvBool("CHAT_ALLOW_FALLBACK", true),
		TypingTimeout:      getEnvDuration("CHAT_TYPING_TIMEOUT", 3*time.Second),
		Port:               getEnv("CHAT_PORT", "8080"),
		JWTSecret:          getEnv("CHAT_JWT_SECRET", "dev-secret-change-me"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Default returns the built-in defaults without touching the environment.
// Tests use it so CHAT_* variables on the host cannot leak in.
func Default() *Config {
	return &Config{
		BaseURL:            "http://localhost:8080",
		RealtimeURL:        "ws://localhost:8080/ws",
		ReconnectAttempts:  3,
		ReconnectDelay:     time.Second,
		ReconnectDelayMax:  5 * time.Second,
		ConnectTimeout:     10 * time.Second,
		PollInterval:       5 * time.Second,
		PollRequestTimeout: 4 * time.Second,
		PollRetryCount:     2,
		FailureThreshold:   2,
		AllowFallback:      true,
		TypingTimeout:      3 * time.Second,
		Port:               "8080",
		JWTSecret:          "dev-secret-change-me",
	}
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("CHAT_BASE_URL cannot be empty")
	}
	if c.RealtimeURL == "" {
		return errors.New("CHAT_REALTIME_URL cannot be empty")
	}
	if c.ReconnectAttempts <= 0 {
		return errors.New("CHAT_WS_RECONNECT_ATTEMPTS must be > 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("CHAT_POLL_INTERVAL must be > 0")
	}
	if c.FailureThreshold <= 0 {
		return errors.New("CHAT_FAILURE_THRESHOLD must be > 0")
	}
	if c.PollRequestTimeout >= c.ConnectTimeout {
		return errors.New("CHAT_POLL_REQUEST_TIMEOUT must be shorter than CHAT_WS_CONNECT_TIMEOUT")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
