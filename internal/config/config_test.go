package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("ACCESS_TTL", "")
	t.Setenv("LIVEKIT_URL", "")
	t.Setenv("CORS_ORIGINS", "")

	cfg := Load()
	if cfg.HTTPPort != "8001" {
		t.Fatalf("expected default port 8001, got %s", cfg.HTTPPort)
	}
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("expected 1h access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.RoomMaxParticipants != 100 {
		t.Fatalf("expected room cap 100, got %d", cfg.RoomMaxParticipants)
	}
	if cfg.LiveKitConfigured() {
		t.Fatalf("expected livekit to be unconfigured without LIVEKIT_URL")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("expected wildcard cors origin, got %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACCESS_TTL", "30m")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("ROOM_MAX_PARTICIPANTS", "25")
	t.Setenv("LIVEKIT_URL", "wss://lk.example.com")
	t.Setenv("LIVEKIT_API_KEY", "key")
	t.Setenv("LIVEKIT_API_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	if cfg.AccessTTL != 30*time.Minute {
		t.Fatalf("expected 30m, got %s", cfg.AccessTTL)
	}
	if cfg.MigrateOnStart {
		t.Fatalf("expected migrations disabled")
	}
	if cfg.RoomMaxParticipants != 25 {
		t.Fatalf("expected 25, got %d", cfg.RoomMaxParticipants)
	}
	if !cfg.LiveKitConfigured() {
		t.Fatalf("expected livekit configured")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")
	t.Setenv("MIGRATE_ON_START", "maybe")

	cfg := Load()
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("expected fallback ttl, got %s", cfg.AccessTTL)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Fatalf("expected fallback rate 120, got %d", cfg.RateLimitPerMin)
	}
	if !cfg.MigrateOnStart {
		t.Fatalf("expected fallback true for migrate flag")
	}
}

func TestNonPositiveValuesFallBack(t *testing.T) {
	cases := []struct {
		name string
		room string
		rate string
	}{
		{name: "negative", room: "-5", rate: "-1"},
		{name: "zero", room: "0", rate: "0"},
		{name: "overflow", room: "5000000000", rate: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ROOM_MAX_PARTICIPANTS", tc.room)
			t.Setenv("RATE_LIMIT_PER_MIN", tc.rate)

			cfg := Load()
			if cfg.RoomMaxParticipants != 100 {
				t.Fatalf("expected fallback room cap 100, got %d", cfg.RoomMaxParticipants)
			}
			if cfg.RateLimitPerMin != 120 {
				t.Fatalf("expected fallback rate 120, got %d", cfg.RateLimitPerMin)
			}
		})
	}
}
