package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDecodesSections(t *testing.T) {
	path := writeFile(t, `
[mainConfig]
appName = "fresh"
port = 9000
timezone = "Asia/Shanghai"

[syncConfig]
backend = "redis"
txRetries = 7

[redisConfig]
host = "127.0.0.1"
port = 6379

[kafkaConfig]
messageMode = "kafka"
hostPort = "localhost:9092"
`)
	var cfg Config
	if err := LoadConfig(&cfg, path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "fresh" || cfg.MainConfig.Port != 9000 {
		t.Fatalf("main config not decoded: %+v", cfg.MainConfig)
	}
	if cfg.Backend != "redis" || cfg.TxRetries != 7 {
		t.Fatalf("sync config not decoded: %+v", cfg.SyncConfig)
	}
	if cfg.MessageMode != "kafka" || cfg.NotifyTopic != "fresh_notify" {
		t.Fatalf("kafka config: %+v", cfg.KafkaConfig)
	}
	if cfg.MainConfig.Location().String() != "Asia/Shanghai" {
		t.Fatalf("unexpected location %s", cfg.MainConfig.Location())
	}
}

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	var cfg Config
	err := LoadConfig(&cfg, filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected not found error")
	}
	if cfg.Backend != "memory" || cfg.MessageMode != "channel" || cfg.MainConfig.Port != 8000 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.JWTConfig.Secret == "" {
		t.Fatal("expected dev secret")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("FRESH_SYNC_BACKEND", "mysql")
	t.Setenv("FRESH_JWT_SECRET", "from-env")
	t.Setenv("FRESH_PORT", "8123")
	t.Setenv("FRESH_APPLE_CLIENT_ID", "com.example.fresh")
	path := writeFile(t, "[syncConfig]\nbackend = \"redis\"\n")

	var cfg Config
	if err := LoadConfig(&cfg, path); err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "mysql" || cfg.JWTConfig.Secret != "from-env" || cfg.MainConfig.Port != 8123 {
		t.Fatalf("env not applied: backend=%s secret=%s port=%d", cfg.Backend, cfg.JWTConfig.Secret, cfg.MainConfig.Port)
	}
	if cfg.OAuthConfig.AppleClientID != "com.example.fresh" {
		t.Fatalf("apple client id %q", cfg.OAuthConfig.AppleClientID)
	}
}

func TestLoadConfigBadTOML(t *testing.T) {
	path := writeFile(t, "[mainConfig\nport = ")
	var cfg Config
	if err := LoadConfig(&cfg, path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLocationFallback(t *testing.T) {
	if got := (MainConfig{Timezone: "Not/AZone"}).Location(); got.String() != "Local" {
		t.Fatalf("got %s", got)
	}
}
