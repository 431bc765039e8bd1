package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Build.LimitResults != 30 || cfg.Build.TeaserWordCount != 30 {
		t.Errorf("unexpected result options: %+v", cfg.Build)
	}
	if len(cfg.Build.Fields) != 3 || cfg.Build.Fields[0].Name != "title" || cfg.Build.Fields[0].Boost != 2 {
		t.Errorf("unexpected fields: %+v", cfg.Build.Fields)
	}
	if cfg.Build.Version != "0.9.5" {
		t.Errorf("version = %q", cfg.Build.Version)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	body := []byte(`
server:
  port: 9999
index:
  path: /srv/book/searchindex.json
  watch: false
search:
  queryTimeout: 5s
build:
  fields:
    - name: title
      boost: 3
    - name: body
      boost: 1
  bool: AND
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BS_REDIS_ADDR", "cache:6380")
	t.Setenv("BS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BS_SERVER_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Index.Path != "/srv/book/searchindex.json" || cfg.Index.Watch {
		t.Errorf("index = %+v", cfg.Index)
	}
	if cfg.Search.QueryTimeout != 5*time.Second {
		t.Errorf("query timeout = %v", cfg.Search.QueryTimeout)
	}
	if len(cfg.Build.Fields) != 2 || cfg.Build.Fields[0].Boost != 3 {
		t.Errorf("fields = %+v", cfg.Build.Fields)
	}
	if cfg.Redis.Addr != "cache:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if len(cfg.Server.TrustedProxies) != 2 || cfg.Server.TrustedProxies[0] != "10.0.0.0/8" {
		t.Errorf("trusted proxies = %v", cfg.Server.TrustedProxies)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no fields", func(c *Config) { c.Build.Fields = nil }},
		{"duplicate field", func(c *Config) {
			c.Build.Fields = []FieldConfig{{Name: "body", Boost: 1}, {Name: "body", Boost: 1}}
		}},
		{"negative boost", func(c *Config) { c.Build.Fields[0].Boost = -1 }},
		{"bad bool", func(c *Config) { c.Build.Bool = "XOR" }},
		{"bad backend", func(c *Config) { c.Index.SnapshotBackend = "s3" }},
		{"zero limit", func(c *Config) { c.Build.LimitResults = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
