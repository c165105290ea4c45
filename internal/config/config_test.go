package config_test

import (
	"testing"
	"time"

	"github.com/predyx/market-engine/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.MatchWorkers != 4 {
		t.Errorf("MatchWorkers = %d, want 4", cfg.MatchWorkers)
	}
	if cfg.MatchQueueSize != 1024 {
		t.Errorf("MatchQueueSize = %d, want 1024", cfg.MatchQueueSize)
	}
	if cfg.SchedulerTick != time.Minute {
		t.Errorf("SchedulerTick = %s, want 1m", cfg.SchedulerTick)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %s, want 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MATCH_WORKERS", "8")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("DATABASE_URL", "postgres://localhost/markets")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.MatchWorkers != 8 {
		t.Errorf("MatchWorkers = %d, want 8", cfg.MatchWorkers)
	}
	if cfg.CacheTTL != 2*time.Minute {
		t.Errorf("CacheTTL = %s, want 2m", cfg.CacheTTL)
	}
	if cfg.DatabaseURL != "postgres://localhost/markets" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"PORT", "not-a-number"},
		{"MATCH_WORKERS", "0"},
		{"MATCH_QUEUE_SIZE", "-1"},
		{"SCHEDULER_TICK", "soon"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := config.Load(); err == nil {
				t.Errorf("%s=%q accepted, want error", tc.key, tc.value)
			}
		})
	}
}
