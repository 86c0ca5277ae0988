package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServiceName != "bella-server" {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, "bella-server")
	}
	if cfg.InterruptionTTL != 150*time.Millisecond {
		t.Errorf("InterruptionTTL = %v, want 150ms", cfg.InterruptionTTL)
	}
	if cfg.ShardingEnabled() {
		t.Error("ShardingEnabled() = true, want false without REDIS_ADDRS")
	}
	if cfg.Addr() != ":8082" {
		t.Errorf("Addr() = %q, want %q", cfg.Addr(), ":8082")
	}
}

func TestLoadRedisAddrs(t *testing.T) {
	t.Setenv("REDIS_ADDRS", "redis-a:6379,redis-b:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.RedisAddrs) != 2 {
		t.Fatalf("RedisAddrs = %v, want 2 entries", cfg.RedisAddrs)
	}
	if !cfg.ShardingEnabled() {
		t.Error("ShardingEnabled() = false, want true")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "ttl too short", key: "INTERRUPTION_CHECK_TTL", value: "10ms"},
		{name: "ttl too long", key: "INTERRUPTION_CHECK_TTL", value: "1s"},
		{name: "zero shards", key: "SHARD_COUNT", value: "0"},
		{name: "bad duration", key: "WORKFLOW_LEASE_TTL", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s error = nil, want error", tt.key, tt.value)
			}
		})
	}
}
