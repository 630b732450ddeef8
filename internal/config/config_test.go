package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FORGE_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.DefinitionCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected cache ttl %v", cfg.DefinitionCacheTTL)
	}
	if cfg.DBMaxOpenConns != 20 {
		t.Fatalf("unexpected pool size %d", cfg.DBMaxOpenConns)
	}
	if cfg.MinIOBucket != "forge-snapshots" {
		t.Fatalf("unexpected bucket %q", cfg.MinIOBucket)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("FORGE_CONFIG_FILE", "")
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("FORGE_DEFINITION_CACHE_TTL_SECONDS", "30")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.DefinitionCacheTTL != 30*time.Second {
		t.Fatalf("unexpected cache ttl %v", cfg.DefinitionCacheTTL)
	}
	if !cfg.MinIOUseSSL {
		t.Fatal("expected MinIOUseSSL")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	if err := os.WriteFile(path, []byte("FORGE_REPOS_DIR: /srv/forge\nREDIS_URL: redis://cache:6379/1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FORGE_CONFIG_FILE", path)
	t.Setenv("REDIS_URL", "redis://env:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReposDir != "/srv/forge" {
		t.Fatalf("expected repos dir from file, got %q", cfg.ReposDir)
	}
	if cfg.RedisURL != "redis://env:6379/0" {
		t.Fatalf("expected env to win over file, got %q", cfg.RedisURL)
	}
}
