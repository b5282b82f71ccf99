package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const envDevelopment = "development"

// devJWTSecret signs tokens on developer machines only; any other environment
// must set JWT_SECRET.
const devJWTSecret = "nicedentist-development-secret"

type Config struct {
	Port      string `env:"PORT,       default=8080"`
	Env       string `env:"ENV,        default=development"`
	LogLevel  string `env:"LOG_LEVEL,  default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	JWT      JWTConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Welcome  WelcomeConfig
	Admin    AdminConfig
}

type JWTConfig struct {
	Secret     string        `env:"JWT_SECRET"`
	Issuer     string        `env:"JWT_ISSUER,  default=NiceDentist"`
	TTL        time.Duration `env:"JWT_TTL,     default=1h"`
	BcryptCost int           `env:"BCRYPT_COST, default=10"`
}

type MongoConfig struct {
	URI      string        `env:"MONGO_URI,     default=mongodb://localhost:27017"`
	Database string        `env:"MONGO_DB,      default=nicedentist_auth"`
	Timeout  time.Duration `env:"MONGO_TIMEOUT, default=10s"`
}

type RedisConfig struct {
	Addr       string        `env:"REDIS_ADDR,        default=localhost:6379"`
	Password   string        `env:"REDIS_PASSWORD"`
	DB         int           `env:"REDIS_DB,          default=0"`
	AttemptTTL time.Duration `env:"REDIS_ATTEMPT_TTL, default=24h"`
}

type RabbitMQConfig struct {
	Host     string `env:"RABBITMQ_HOST,     default=localhost"`
	Port     int    `env:"RABBITMQ_PORT,     default=5672"`
	User     string `env:"RABBITMQ_USER,     default=guest"`
	Password string `env:"RABBITMQ_PASSWORD, default=guest"`
	VHost    string `env:"RABBITMQ_VHOST,    default=/"`
	Exchange string `env:"RABBITMQ_EXCHANGE, default=nicedentist.events"`

	ManagerEventsQueue string `env:"RABBITMQ_MANAGER_EVENTS_QUEUE, default=auth.manager.events"`
	UserEventsQueue    string `env:"RABBITMQ_USER_EVENTS_QUEUE,    default=manager.user.created"`
	DeadLetterQueue    string `env:"RABBITMQ_DEAD_LETTER_QUEUE,    default=auth.manager.events.dead"`
	QuorumQueue        bool   `env:"RABBITMQ_QUORUM_QUEUE,         default=false"`

	Prefetch        int    `env:"RABBITMQ_PREFETCH,         default=16"`
	Workers         int    `env:"RABBITMQ_WORKERS,          default=8"`
	MaxRedeliveries int    `env:"RABBITMQ_MAX_REDELIVERIES, default=10"`
	Source          string `env:"RABBITMQ_SOURCE,           default=NiceDentist.Auth.Api"`
}

type WelcomeConfig struct {
	TemplateURL string        `env:"WELCOME_TEMPLATE_URL, default=http://localhost:3000/email-templates/customer-welcome.html"`
	Timeout     time.Duration `env:"WELCOME_TIMEOUT,      default=5s"`
}

type AdminConfig struct {
	// Seed is nil when SEED_ADMIN is unset; see SeedEnabled.
	Seed     *bool  `env:"SEED_ADMIN, noinit"`
	Username string `env:"ADMIN_USERNAME, default=admin"`
	Email    string `env:"ADMIN_EMAIL,    default=admin@nicedentist.com"`
	Password string `env:"ADMIN_PASSWORD, default=Admin@123"`
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, envDevelopment)
}

// SeedEnabled reports whether the admin account should be ensured at startup.
// Without SEED_ADMIN it follows the environment.
func (c *Config) SeedEnabled() bool {
	if c.Admin.Seed != nil {
		return *c.Admin.Seed
	}
	return c.IsDevelopment()
}

// Load reads a .env file when one exists, then the process environment. It
// panics on invalid configuration.
func Load() *Config {
	_ = godotenv.Load(".env")

	cfg, err := load(context.Background(), envconfig.OsLookuper())
	if err != nil {
		panic(fmt.Sprintf("config: failed to load configuration: %v", err))
	}
	return cfg
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		if !c.IsDevelopment() {
			return errors.New("JWT_SECRET is required outside development")
		}
		c.JWT.Secret = devJWTSecret
	}
	if c.RabbitMQ.Workers <= 0 {
		return fmt.Errorf("RABBITMQ_WORKERS must be positive, got %d", c.RabbitMQ.Workers)
	}
	if c.RabbitMQ.MaxRedeliveries < 0 {
		return fmt.Errorf("RABBITMQ_MAX_REDELIVERIES must not be negative, got %d", c.RabbitMQ.MaxRedeliveries)
	}
	return nil
}
