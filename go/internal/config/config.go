package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mcdev12/fieldofplay/go/internal/fop"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Env is the part of the configuration read from the environment
type Env struct {
	Port           string        `env:"GATEWAY_PORT"    envDefault:"8081"`
	NATSURL        string        `env:"NATS_URL"        envDefault:"nats://localhost:4222"`
	RelayEnabled   bool          `env:"RELAY_ENABLED"   envDefault:"false"`
	PlatformsFile  string        `env:"PLATFORMS_FILE"  envDefault:"platforms.yaml"`
	InitialWarning time.Duration `env:"INITIAL_WARNING" envDefault:"90s"`
	FinalWarning   time.Duration `env:"FINAL_WARNING"   envDefault:"30s"`
	LogLevel       string        `env:"LOG_LEVEL"       envDefault:"info"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Config is the runtime configuration of the gateway
type Config struct {
	Env
	Platforms []fop.Config
}

// PlatformsFile is the YAML document listing the competition platforms
type PlatformsFile struct {
	Platforms []fop.Config `yaml:"platforms"`
}

// DefaultPlatforms is used when no platforms file exists
func DefaultPlatforms() []fop.Config {
	return []fop.Config{{ID: "A", Name: "Platform A", AttemptTime: fop.DefaultAttemptTime}}
}

// Load reads .env (if present), the environment and the platforms file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg.Env); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	platforms, err := LoadPlatforms(cfg.PlatformsFile)
	if err != nil {
		return nil, err
	}
	cfg.Platforms = platforms
	return &cfg, nil
}

// LoadPlatforms reads and validates the platforms file. A missing file
// yields DefaultPlatforms.
func LoadPlatforms(path string) ([]fop.Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("no platforms file, using default platform")
		return DefaultPlatforms(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read platforms file: %w", err)
	}

	var file PlatformsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse platforms file: %w", err)
	}
	if len(file.Platforms) == 0 {
		return nil, fmt.Errorf("platforms file %s lists no platforms", path)
	}

	seen := make(map[string]bool, len(file.Platforms))
	for i, p := range file.Platforms {
		if err := ValidateID(p.ID); err != nil {
			return nil, fmt.Errorf("platform %d: %w", i, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("platform %q listed twice", p.ID)
		}
		seen[p.ID] = true
		if p.AttemptTime < 0 {
			return nil, fmt.Errorf("platform %q: negative attempt_time", p.ID)
		}
	}
	return file.Platforms, nil
}

// ValidateID checks that id can be used as a NATS subject token
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if strings.ContainsAny(id, ".*> \t\r\n") {
		return fmt.Errorf("id %q may not contain '.', '*', '>' or whitespace", id)
	}
	return nil
}

// Level returns the zerolog level for LogLevel, defaulting to info
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
