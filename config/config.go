package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Config holds every setting read from the environment.
type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	Env    string `env:"GO_ENV" envDefault:"development"`
	Domain string `env:"DOMAIN"`

	StoreDriver   string `env:"STORE_DRIVER" envDefault:"mongo"`
	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"civicfix"`

	// RedisAddress selects the Redis transition lock; empty uses an
	// in-process lock.
	RedisAddress  string `env:"REDIS_ADDRESS"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"72h"`

	// GCSBucket selects Google Cloud Storage for photos; empty keeps them
	// on local disk under PhotoDir.
	GCSBucket    string `env:"GCS_BUCKET"`
	PhotoDir     string `env:"PHOTO_DIR" envDefault:"storage/photos"`
	PhotoBaseURL string `env:"PHOTO_BASE_URL" envDefault:"/photos"`

	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	TransitionLockTTL  time.Duration `env:"TRANSITION_LOCK_TTL" envDefault:"5s"`
	TransitionLockWait time.Duration `env:"TRANSITION_LOCK_WAIT" envDefault:"2s"`

	AdminName     string `env:"ADMIN_NAME" envDefault:"Admin"`
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// Load reads .env when present, then parses and validates the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

// Validate rejects settings that cannot run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("please define the MONGODB_URI environment variable")
		}
	case DriverMemory:
		if c.Production() {
			return errors.New("STORE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.TransitionLockWait <= 0 || c.TransitionLockTTL <= 0 {
		return errors.New("TRANSITION_LOCK_TTL and TRANSITION_LOCK_WAIT must be positive")
	}
	if c.AdminEmail != "" && c.AdminPassword == "" {
		return errors.New("ADMIN_PASSWORD is required when ADMIN_EMAIL is set")
	}
	return nil
}
