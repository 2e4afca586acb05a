package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.RequestStream != "integration_requests" {
		t.Fatalf("unexpected request stream default %q", cfg.RequestStream)
	}
	if cfg.JobTTL() != 10*time.Minute {
		t.Fatalf("unexpected job ttl default %s", cfg.JobTTL())
	}
	if cfg.CollateralFactor != 0.8 {
		t.Fatalf("unexpected collateral factor default %v", cfg.CollateralFactor)
	}
	if !cfg.AggregatorEnabled || !cfg.ConsolidatorEnabled {
		t.Fatalf("expected both workers enabled by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("JOB_TTL_SECONDS", "120")
	t.Setenv("STREAM_MAX_ATTEMPTS", "5")
	t.Setenv("CONSOLIDATOR_ENABLED", "false")

	cfg := Load()
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.RedisAddr)
	}
	if cfg.JobTTL() != 2*time.Minute {
		t.Fatalf("unexpected job ttl %s", cfg.JobTTL())
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("unexpected max attempts %d", cfg.MaxAttempts)
	}
	if cfg.ConsolidatorEnabled {
		t.Fatalf("expected consolidator disabled")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("JOB_TTL_SECONDS", "not-a-number")
	t.Setenv("COLLATERAL_FACTOR", "lots")

	cfg := Load()
	if cfg.JobTTLSeconds != 600 {
		t.Fatalf("expected fallback for malformed int, got %d", cfg.JobTTLSeconds)
	}
	if cfg.CollateralFactor != 0.8 {
		t.Fatalf("expected fallback for malformed float, got %v", cfg.CollateralFactor)
	}
}

func TestResultCacheTTLClamp(t *testing.T) {
	cases := []struct {
		seconds int
		want    time.Duration
	}{
		{10, time.Minute},
		{300, 5 * time.Minute},
		{7200, 60 * time.Minute},
	}
	for _, tc := range cases {
		cfg := Config{ResultCacheTTLSeconds: tc.seconds}
		if got := cfg.ResultCacheTTL(); got != tc.want {
			t.Fatalf("ttl for %ds: got %s, want %s", tc.seconds, got, tc.want)
		}
	}
}
