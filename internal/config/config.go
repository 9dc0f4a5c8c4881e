package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	StorageFal = "fal"
	StorageS3  = "s3"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"

	ErrorPolicyLog     = "log"
	ErrorPolicySurface = "surface"
)

// Config holds process-wide settings. It is loaded once at startup and passed
// explicitly to the components that need it.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES" envDefault:"20971520"`
	ErrorPolicy     string        `env:"ERROR_POLICY" envDefault:"log"`

	Fal     FalConfig
	Model   ModelConfig
	Storage StorageConfig
	Session SessionConfig

	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DatabaseDSN string `env:"DATABASE_DSN"`
}

// FalConfig configures the hosted inference provider.
type FalConfig struct {
	Key        string `env:"FAL_KEY"` // server-held secret, never sent to the browser
	QueueURL   string `env:"FAL_QUEUE_URL" envDefault:"https://queue.fal.run"`
	StorageURL string `env:"FAL_STORAGE_URL" envDefault:"https://rest.alpha.fal.ai"`
}

// ModelConfig holds the fixed background removal parameters.
type ModelConfig struct {
	Endpoint            string        `env:"MODEL_ENDPOINT" envDefault:"fal-ai/birefnet"`
	Variant             string        `env:"MODEL_VARIANT" envDefault:"General Use (Light)"`
	OperatingResolution string        `env:"OPERATING_RESOLUTION" envDefault:"1024x1024"`
	OutputFormat        string        `env:"OUTPUT_FORMAT" envDefault:"png"`
	Timeout             time.Duration `env:"MODEL_TIMEOUT" envDefault:"2m"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
}

// StorageConfig selects where uploaded images are staged before inference.
type StorageConfig struct {
	Backend      string        `env:"STORAGE_BACKEND" envDefault:"fal"`
	S3Bucket     string        `env:"S3_BUCKET"`
	S3Prefix     string        `env:"S3_PREFIX" envDefault:"uploads"`
	S3PresignTTL time.Duration `env:"S3_PRESIGN_TTL" envDefault:"1h"`
	S3PublicBase string        `env:"S3_PUBLIC_BASE_URL"`
}

// SessionConfig configures browser sessions.
type SessionConfig struct {
	Secret       string        `env:"SESSION_SECRET"`
	TTL          time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	Store        string        `env:"SESSION_STORE" envDefault:"memory"`
	SecureCookie bool          `env:"SESSION_SECURE_COOKIE" envDefault:"false"`
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the current environment without touching .env.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Fal.Key = strings.TrimSpace(c.Fal.Key)
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Session.Store = strings.ToLower(strings.TrimSpace(c.Session.Store))
	c.ErrorPolicy = strings.ToLower(strings.TrimSpace(c.ErrorPolicy))
	c.Fal.QueueURL = strings.TrimRight(c.Fal.QueueURL, "/")
	c.Fal.StorageURL = strings.TrimRight(c.Fal.StorageURL, "/")
	c.Storage.S3PublicBase = strings.TrimRight(c.Storage.S3PublicBase, "/")
}

// Validate checks enum values and cross-field requirements. A missing FAL_KEY
// is not an error here; removal requests fail instead.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageFal:
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	switch c.Session.Store {
	case SessionStoreMemory, SessionStoreRedis:
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Session.Store)
	}

	switch c.ErrorPolicy {
	case ErrorPolicyLog, ErrorPolicySurface:
	default:
		return fmt.Errorf("unknown ERROR_POLICY %q", c.ErrorPolicy)
	}

	if c.Model.Timeout <= 0 {
		return errors.New("MODEL_TIMEOUT must be positive")
	}
	if c.Model.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}
