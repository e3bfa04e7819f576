package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/go-multierror"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

const envPrefix = "COACH_"

type Config struct {
	Mode     Mode   `env:"MODE" envDefault:"local"`
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StorageBackend  string `env:"STORAGE_BACKEND" envDefault:"memory"` // memory, firestore or sqlite
	SQLitePath      string `env:"SQLITE_PATH" envDefault:"data/coach.db"`
	GCPProject      string `env:"GCP_PROJECT"`
	GCPLocation     string `env:"GCP_LOCATION" envDefault:"us-central1"`
	TemplateBackend string `env:"TEMPLATE_BACKEND" envDefault:"memory"` // memory or firestore
	TemplatesFile   string `env:"TEMPLATES_FILE"`

	CacheBackend     string        `env:"CACHE_BACKEND" envDefault:"memory"` // memory, redis or none
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	CachePrefix      string        `env:"CACHE_PREFIX" envDefault:"coach:"`
	TemplateCacheTTL time.Duration `env:"TEMPLATE_CACHE_TTL" envDefault:"1h"`
	SessionCacheTTL  time.Duration `env:"SESSION_CACHE_TTL" envDefault:"30m"`

	LLMProvider   string `env:"LLM_PROVIDER" envDefault:"mock"`
	LLMModel      string `env:"LLM_MODEL"`
	AWSRegion     string `env:"AWS_REGION"`
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	TurnTimeout time.Duration `env:"TURN_TIMEOUT" envDefault:"60s"`
	SaveTimeout time.Duration `env:"SAVE_TIMEOUT" envDefault:"10s"`
}

// Load reads the COACH_* environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	switch c.Mode {
	case ModeLocal, ModeGCP:
	default:
		fail("%sMODE: unknown mode %q", envPrefix, c.Mode)
	}
	if c.Port == "" {
		fail("%sPORT must be set", envPrefix)
	}

	switch c.StorageBackend {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			fail("%sSQLITE_PATH is required for the sqlite backend", envPrefix)
		}
	case "firestore":
		if c.GCPProject == "" {
			fail("%sGCP_PROJECT is required for the firestore backend", envPrefix)
		}
	default:
		fail("%sSTORAGE_BACKEND: unknown backend %q", envPrefix, c.StorageBackend)
	}

	switch c.TemplateBackend {
	case "memory":
	case "firestore":
		if c.GCPProject == "" {
			fail("%sGCP_PROJECT is required for firestore templates", envPrefix)
		}
	default:
		fail("%sTEMPLATE_BACKEND: unknown backend %q", envPrefix, c.TemplateBackend)
	}

	switch c.CacheBackend {
	case "memory", "none":
	case "redis":
		if c.RedisAddr == "" {
			fail("%sREDIS_ADDR is required for the redis cache", envPrefix)
		}
	default:
		fail("%sCACHE_BACKEND: unknown backend %q", envPrefix, c.CacheBackend)
	}

	switch c.LLMProvider {
	case "mock":
	case "vertex":
		if c.GCPProject == "" || c.GCPLocation == "" {
			fail("%sGCP_PROJECT and %sGCP_LOCATION are required for vertex", envPrefix, envPrefix)
		}
	case "bedrock":
		if c.AWSRegion == "" {
			fail("%sAWS_REGION is required for bedrock", envPrefix)
		}
	case "openai":
		if c.OpenAIKey == "" {
			fail("%sOPENAI_API_KEY is required for openai", envPrefix)
		}
	default:
		fail("%sLLM_PROVIDER: unknown provider %q", envPrefix, c.LLMProvider)
	}

	if c.Mode == ModeGCP && c.GCPProject == "" {
		fail("%sGCP_PROJECT must be set in gcp mode", envPrefix)
	}
	if c.TurnTimeout <= 0 || c.SaveTimeout <= 0 {
		fail("turn and save timeouts must be positive")
	}
	if c.TemplateCacheTTL < 0 || c.SessionCacheTTL < 0 {
		fail("cache TTLs must not be negative")
	}

	return errs.ErrorOrNil()
}
