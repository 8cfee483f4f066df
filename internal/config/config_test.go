package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Database.Driver != "mongo" {
		t.Errorf("server/database = %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.Archive.Timeout != 30*time.Second || cfg.Archive.TransferType != "standard" {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Archive.ArtifactCacheMaxBytes != 16<<20 || cfg.Archive.ArtifactMaxBytes != 1<<30 {
		t.Errorf("artifact limits = %d/%d", cfg.Archive.ArtifactCacheMaxBytes, cfg.Archive.ArtifactMaxBytes)
	}
	if cfg.Monitor.Interval != time.Second || cfg.Monitor.MaxDuration != 24*time.Hour || cfg.Monitor.MaxAttempts != 0 {
		t.Errorf("monitor = %+v", cfg.Monitor)
	}
	if cfg.S3.UploadExpiry != 15*time.Minute || cfg.S3.BucketName != "" {
		t.Errorf("s3 = %+v", cfg.S3)
	}
}

func TestLoadConfig_FileValues(t *testing.T) {
	dir := writeConfig(t, `
database:
  driver: memory
archive:
  dashboard_url: http://am.local
  dashboard_username: admin
  dashboard_api_key: k1
  artifact_cache_size: 0
monitor:
  interval: 5s
  max_attempts: 120
log:
  format: text
`)
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Archive.DashboardURL != "http://am.local" || cfg.Archive.DashboardUsername != "admin" || cfg.Archive.ArtifactCacheSize != 0 {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Monitor.Interval != 5*time.Second || cfg.Monitor.MaxAttempts != 120 {
		t.Errorf("monitor = %+v", cfg.Monitor)
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "info" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := writeConfig(t, "archive:\n  dashboard_api_key: from-file\n")
	t.Setenv("ARCHIVE_DASHBOARD_API_KEY", "from-env")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MONITOR_MAX_DURATION", "2h")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Archive.DashboardAPIKey != "from-env" || cfg.JWT.Secret != "s3cret" || cfg.Monitor.MaxDuration != 2*time.Hour {
		t.Errorf("cfg = %+v %+v %+v", cfg.Archive, cfg.JWT, cfg.Monitor)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := writeConfig(t, "archive: [unterminated\n")
	if _, err := LoadConfig(dir); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LogConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown", "transfer_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"transfer_id":"abc"`) {
		t.Errorf("expected json attrs, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
