package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PLATFORMS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8081" || cfg.RelayEnabled {
		t.Fatalf("Load() = %+v, want port 8081 relay off", cfg)
	}
	if cfg.InitialWarning != 90*time.Second || cfg.FinalWarning != 30*time.Second {
		t.Fatalf("warnings = %v/%v, want 90s/30s", cfg.InitialWarning, cfg.FinalWarning)
	}
	if len(cfg.Platforms) != 1 || cfg.Platforms[0].ID != "A" {
		t.Fatalf("Platforms = %+v, want default platform A", cfg.Platforms)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadFromEnvAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GATEWAY_PORT=9000\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv never overrides a variable that is already set
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("RELAY_ENABLED", "true")
	t.Setenv("FINAL_WARNING", "15s")
	t.Setenv("PLATFORMS_FILE", writeFile(t, "platforms.yaml", `
platforms:
  - id: A
    name: Main stage
    attempt_time: 60s
  - id: B
    attempt_time: 2m
`))
	t.Cleanup(func() { os.Unsetenv("GATEWAY_PORT") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("Port = %q, want 9000 from .env", cfg.Port)
	}
	if cfg.Level() != zerolog.WarnLevel {
		t.Fatalf("Level() = %v, want warn", cfg.Level())
	}
	if !cfg.RelayEnabled || cfg.FinalWarning != 15*time.Second {
		t.Fatalf("Load() = %+v", cfg)
	}
	if len(cfg.Platforms) != 2 {
		t.Fatalf("Platforms = %+v, want 2", cfg.Platforms)
	}
	if p := cfg.Platforms[0]; p.Name != "Main stage" || p.AttemptTime != time.Minute {
		t.Fatalf("platform A = %+v", p)
	}
	if p := cfg.Platforms[1]; p.ID != "B" || p.AttemptTime != 2*time.Minute {
		t.Fatalf("platform B = %+v", p)
	}
}

func TestLoadPlatformsErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "bad yaml", content: "platforms: [", want: "parse"},
		{name: "empty", content: "platforms: []", want: "no platforms"},
		{name: "missing id", content: "platforms:\n  - name: x", want: "id is required"},
		{name: "dotted id", content: "platforms:\n  - id: a.b", want: "may not contain"},
		{name: "duplicate", content: "platforms:\n  - id: A\n  - id: A", want: "twice"},
		{name: "negative time", content: "platforms:\n  - id: A\n    attempt_time: -1s", want: "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPlatforms(writeFile(t, "platforms.yaml", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadPlatforms() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLevelFallsBackToInfo(t *testing.T) {
	cfg := &Config{Env: Env{LogLevel: "chatty"}}
	if cfg.Level() != zerolog.InfoLevel {
		t.Fatalf("Level() = %v, want info", cfg.Level())
	}
}
