package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRemote   = "remote"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	StoreBackend     string        `mapstructure:"STORE_BACKEND"`
	ResourceDir      string        `mapstructure:"RESOURCE_DIR"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBSchema         string        `mapstructure:"DB_SCHEMA"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	RemoteFHIRURL    string        `mapstructure:"REMOTE_FHIR_URL"`
	RemoteRetryMax   int           `mapstructure:"REMOTE_RETRY_MAX"`
	RemoteTimeout    time.Duration `mapstructure:"REMOTE_TIMEOUT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	MaxExpansionSize int           `mapstructure:"MAX_EXPANSION_SIZE"`
}

var keys = []string{
	"PORT", "ENV", "STORE_BACKEND", "RESOURCE_DIR",
	"DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REMOTE_FHIR_URL", "REMOTE_RETRY_MAX", "REMOTE_TIMEOUT",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "MAX_EXPANSION_SIZE",
}

// Load reads the configuration from the environment. Variables in the given
// .env files (default ".env") are added to the environment first without
// overriding values that are already set; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DB_SCHEMA", "terminology")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REMOTE_RETRY_MAX", 3)
	v.SetDefault("REMOTE_TIMEOUT", "30s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "10M")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("MAX_EXPANSION_SIZE", 0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	origins := v.GetString("CORS_ORIGINS")
	if origins != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	return cfg, nil
}

// BodyLimitBytes parses BODY_LIMIT, a size such as "512K", "10M" or "1G".
// A bare number is bytes.
func (c *Config) BodyLimitBytes() (int64, error) {
	return ParseSize(c.BodyLimit)
}

// ParseSize parses a human-readable byte size. Units are K, M and G with an
// optional trailing B, in powers of 1024.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	var shift uint
	switch s[len(s)-1] {
	case 'K':
		shift = 10
	case 'M':
		shift = 20
	case 'G':
		shift = 30
	}
	if shift > 0 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n << shift, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the backend-specific requirements.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendFile:
		if c.ResourceDir == "" {
			return fmt.Errorf("RESOURCE_DIR is required when STORE_BACKEND is %q", BackendFile)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	case BackendRemote:
		if c.RemoteFHIRURL == "" {
			return fmt.Errorf("REMOTE_FHIR_URL is required when STORE_BACKEND is %q", BackendRemote)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, file, postgres or remote, got %q", c.StoreBackend)
	}

	if _, err := c.BodyLimitBytes(); err != nil {
		return fmt.Errorf("BODY_LIMIT: %w", err)
	}
	if c.MaxExpansionSize < 0 {
		return fmt.Errorf("MAX_EXPANSION_SIZE must not be negative, got %d", c.MaxExpansionSize)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
