// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Postgres connection string. Empty selects the in-memory stores, which
	// is only acceptable for development.
	DatabaseURL string

	// Redis address for the leaderboard reconcile queue. Empty selects the
	// in-process queue.
	RedisAddr     string
	RedisPassword string

	// Gemini API key for the teaching and grading provider. Empty selects
	// the fallback bank for every call.
	GeminiAPIKey string
	GeminiModel  string

	MaxBodyBytes int64

	// Session tunables.
	WrapUpAfter        time.Duration
	ConcludeAfter      time.Duration
	AutosaveInterval   time.Duration
	MaxSessionsPerUser int

	// Live WebSocket mode.
	WSMaxFrameBytes  int64
	WSPingInterval   time.Duration
	WSWriteTimeout   time.Duration
	WSReconnectGrace time.Duration

	LeaderboardTopN int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOX_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("VOX_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:             make(map[string]struct{}),
		DatabaseURL:         envOr("VOX_DATABASE_URL", ""),
		RedisAddr:           envOr("VOX_REDIS_ADDR", ""),
		RedisPassword:       envOr("VOX_REDIS_PASSWORD", ""),
		GeminiAPIKey:        envOr("VOX_GEMINI_API_KEY", ""),
		GeminiModel:         envOr("VOX_GEMINI_MODEL", "gemini-2.0-flash"),
		MaxBodyBytes:        envInt64Or("VOX_MAX_BODY_BYTES", 1<<20), // 1 MiB
		WrapUpAfter:         envDurationOr("VOX_WRAP_UP_AFTER", 40*time.Minute),
		ConcludeAfter:       envDurationOr("VOX_CONCLUDE_AFTER", 50*time.Minute),
		AutosaveInterval:    envDurationOr("VOX_AUTOSAVE_INTERVAL", 90*time.Second),
		MaxSessionsPerUser:  envIntOr("VOX_MAX_SESSIONS_PER_USER", 1),
		WSMaxFrameBytes:     envInt64Or("VOX_WS_MAX_FRAME_BYTES", 64*1024),
		WSPingInterval:      envDurationOr("VOX_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("VOX_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReconnectGrace:    envDurationOr("VOX_WS_RECONNECT_GRACE", 30*time.Second),
		LeaderboardTopN:     envIntOr("VOX_LEADERBOARD_TOP_N", 100),
		ReadHeaderTimeout:   envDurationOr("VOX_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOX_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOX_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOX_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VOX_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VOX_MAX_BODY_BYTES must be > 0")
	}
	if cfg.WrapUpAfter <= 0 {
		return Config{}, fmt.Errorf("VOX_WRAP_UP_AFTER must be > 0")
	}
	if cfg.ConcludeAfter <= cfg.WrapUpAfter {
		return Config{}, fmt.Errorf("VOX_CONCLUDE_AFTER must be > VOX_WRAP_UP_AFTER")
	}
	if cfg.AutosaveInterval <= 0 || cfg.AutosaveInterval > 2*time.Minute {
		return Config{}, fmt.Errorf("VOX_AUTOSAVE_INTERVAL must be > 0 and <= 2m")
	}
	if cfg.MaxSessionsPerUser <= 0 {
		return Config{}, fmt.Errorf("VOX_MAX_SESSIONS_PER_USER must be > 0")
	}
	if cfg.WSMaxFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOX_WS_MAX_FRAME_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOX_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReconnectGrace < 0 {
		return Config{}, fmt.Errorf("VOX_WS_RECONNECT_GRACE must be >= 0")
	}
	if cfg.LeaderboardTopN <= 0 {
		return Config{}, fmt.Errorf("VOX_LEADERBOARD_TOP_N must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOX_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOX_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOX_API_KEYS must be set when VOX_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
