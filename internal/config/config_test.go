package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.HTTPAddr != ":7470" {
		t.Fatalf("default http addr")
	}
	if cfg.Fsync != "always" {
		t.Fatalf("default fsync")
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("default logging")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "outflow.json")
	data := []byte(`{"httpAddr":":9000","dataDir":"/tmp/of","fsync":"interval","fsyncIntervalMs":20}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("expected :9000")
	}
	if cfg.Fsync != "interval" || cfg.FsyncIntervalMs != 20 {
		t.Fatalf("fsync overrides")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unset fields keep defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "outflow.yaml")
	data := []byte("httpAddr: \":9100\"\nlogFormat: json\nallowedOrigins:\n  - https://a.example\n  - https://b.example\n")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("expected :9100")
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("expected json log format")
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("allowed origins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadFsync(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "outflow.json")
	if err := os.WriteFile(file, []byte(`{"fsync":"sometimes"}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("OUTFLOW_HTTP_ADDR", ":7999")
	os.Setenv("OUTFLOW_FSYNC", "never")
	os.Setenv("OUTFLOW_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Cleanup(func() {
		os.Unsetenv("OUTFLOW_HTTP_ADDR")
		os.Unsetenv("OUTFLOW_FSYNC")
		os.Unsetenv("OUTFLOW_ALLOWED_ORIGINS")
	})
	FromEnv(&cfg)
	if cfg.HTTPAddr != ":7999" {
		t.Fatalf("env override addr")
	}
	if cfg.Fsync != "never" {
		t.Fatalf("env override fsync")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("env override origins: %v", cfg.AllowedOrigins)
	}
}
