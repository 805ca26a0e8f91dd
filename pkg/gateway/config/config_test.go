package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Errorf("AuthMode = %q, want disabled", cfg.AuthMode)
	}
	if cfg.WrapUpAfter != 40*time.Minute || cfg.ConcludeAfter != 50*time.Minute {
		t.Errorf("thresholds = %v/%v, want 40m/50m", cfg.WrapUpAfter, cfg.ConcludeAfter)
	}
	if cfg.AutosaveInterval != 90*time.Second {
		t.Errorf("AutosaveInterval = %v, want 90s", cfg.AutosaveInterval)
	}
	if cfg.MaxSessionsPerUser != 1 {
		t.Errorf("MaxSessionsPerUser = %d, want 1", cfg.MaxSessionsPerUser)
	}
	if cfg.GeminiModel != "gemini-2.0-flash" {
		t.Errorf("GeminiModel = %q", cfg.GeminiModel)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("VOX_ADDR", ":9999")
	t.Setenv("VOX_AUTH_MODE", "required")
	t.Setenv("VOX_API_KEYS", "key-a, key-b,")
	t.Setenv("VOX_WRAP_UP_AFTER", "30m")
	t.Setenv("VOX_CONCLUDE_AFTER", "35m")
	t.Setenv("VOX_AUTOSAVE_INTERVAL", "45s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if len(cfg.APIKeys) != 2 {
		t.Errorf("expected 2 API keys, got %d", len(cfg.APIKeys))
	}
	if _, ok := cfg.APIKeys["key-b"]; !ok {
		t.Error("expected key-b parsed from the CSV")
	}
	if cfg.WrapUpAfter != 30*time.Minute || cfg.ConcludeAfter != 35*time.Minute {
		t.Errorf("thresholds = %v/%v", cfg.WrapUpAfter, cfg.ConcludeAfter)
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "bad auth mode",
			env:  map[string]string{"VOX_AUTH_MODE": "sometimes"},
			want: "VOX_AUTH_MODE",
		},
		{
			name: "required auth without keys",
			env:  map[string]string{"VOX_AUTH_MODE": "required"},
			want: "VOX_API_KEYS",
		},
		{
			name: "conclude before wrap-up",
			env: map[string]string{
				"VOX_WRAP_UP_AFTER":  "45m",
				"VOX_CONCLUDE_AFTER": "40m",
			},
			want: "VOX_CONCLUDE_AFTER",
		},
		{
			name: "autosave interval too long",
			env:  map[string]string{"VOX_AUTOSAVE_INTERVAL": "5m"},
			want: "VOX_AUTOSAVE_INTERVAL",
		},
		{
			name: "zero sessions per user",
			env:  map[string]string{"VOX_MAX_SESSIONS_PER_USER": "0"},
			want: "VOX_MAX_SESSIONS_PER_USER",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error naming %s, got %v", tc.want, err)
			}
		})
	}
}
