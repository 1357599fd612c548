package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("IRIS_BASE_URL", "http://iris:3000")
	t.Setenv("IRIS_WS_URL", "ws://iris:3000/ws")
	t.Setenv("BOT_PREFIX", "!")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_ROOMS", " a, ,b ")
	t.Setenv("ADMIN_USERS", "42")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Duel.MaxHP != 4 || cfg.Duel.AcceptTimeout != 2*time.Minute || cfg.Duel.RoundFloor != 20*time.Second {
		t.Fatalf("duel defaults: %+v", cfg.Duel)
	}
	if len(cfg.AllowedRooms) != 2 || !cfg.RoomAllowed("b") || cfg.RoomAllowed("c") {
		t.Fatalf("allowed rooms: %v", cfg.AllowedRooms)
	}
	if !cfg.IsAdmin("42") || cfg.IsAdmin("7") {
		t.Fatalf("admins: %v", cfg.AdminUsers)
	}
	if cfg.EgressMode != "http" {
		t.Fatalf("egress=%q", cfg.EgressMode)
	}
}

func TestLoadRequiresRedis(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected REDIS_URL error, got %v", err)
	}
}

func TestLoadDuelOverridesAndErrors(t *testing.T) {
	setRequired(t)
	t.Setenv("DUEL_ROUND_DURATION", "45s")
	t.Setenv("DUEL_REPUTATION_REWARD", "25")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Duel.RoundDuration != 45*time.Second || cfg.Duel.ReputationReward != 25 {
		t.Fatalf("overrides not applied: %+v", cfg.Duel)
	}

	t.Setenv("DUEL_MAX_HP", "many")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse error, got %v", err)
	}
	t.Setenv("DUEL_MAX_HP", "4")
	t.Setenv("DUEL_ROUND_DURATION", "10s")
	if _, err := Load(); err == nil {
		t.Fatalf("round shorter than floor accepted")
	}
}

func TestRedisOptions(t *testing.T) {
	o, err := RedisOptions("redis://:secret@cache:6380/3")
	if err != nil {
		t.Fatalf("RedisOptions: %v", err)
	}
	if o.Addr != "cache:6380" || o.Password != "secret" || o.DB != 3 {
		t.Fatalf("options=%+v", o)
	}
	if _, err := RedisOptions("http://cache"); err == nil {
		t.Fatalf("bad scheme accepted")
	}
}
