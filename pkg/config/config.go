// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Namchee/tanyaaja/pkg/captcha"
	"github.com/Namchee/tanyaaja/pkg/hardening"
	"github.com/Namchee/tanyaaja/pkg/ratelimit"
	"github.com/Namchee/tanyaaja/pkg/store"
	"github.com/Namchee/tanyaaja/pkg/telemetry"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	SinkDatabase = "database"
	SinkKafka    = "kafka"
)

type Config struct {
	Addr                string   `env:"ADDR" envDefault:":8080"`
	AppEnv              string   `env:"APP_ENV" envDefault:"production"`
	LogLevel            string   `env:"LOG_LEVEL" envDefault:"info"`
	VerificationBypass  bool     `env:"VERIFICATION_BYPASS"`
	StrictProdSecurity  bool     `env:"STRICT_PROD_SECURITY"`
	TrustedProxyCIDRs   []string `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`
	CORSAllowedOrigins  []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	MaxRequestBodyBytes int64    `env:"MAX_REQUEST_BODY_BYTES" envDefault:"16384"`
	MaxQuestionLength   int      `env:"MAX_QUESTION_LENGTH" envDefault:"1000"`
	QuestionSink        string   `env:"QUESTION_SINK" envDefault:"database"`

	HTTP      HTTP             `envPrefix:"HTTP_"`
	RateLimit RateLimit        `envPrefix:"RATE_LIMIT_"`
	Recaptcha Recaptcha        `envPrefix:"RECAPTCHA_"`
	Store     Store            `envPrefix:"STORE_"`
	Database  Database         `envPrefix:"DATABASE_"`
	Redis     Redis            `envPrefix:"REDIS_"`
	Kafka     Kafka            `envPrefix:"KAFKA_"`
	Telemetry telemetry.Config `envPrefix:"OTEL_"`
}

type HTTP struct {
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type RateLimit struct {
	Limit         int           `env:"LIMIT" envDefault:"5"`
	Window        time.Duration `env:"WINDOW" envDefault:"5s"`
	FailurePolicy string        `env:"FAILURE_POLICY" envDefault:"closed"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"2s"`
	Prefix        string        `env:"PREFIX" envDefault:"tanyaaja:rl:"`
}

type Recaptcha struct {
	SecretKey      string        `env:"SECRET_KEY"`
	ScoreThreshold float64       `env:"SCORE_THRESHOLD" envDefault:"0.5"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"3s"`
	VerifyURL      string        `env:"VERIFY_URL"`
}

type Store struct {
	Driver        string        `env:"DRIVER" envDefault:"postgres"`
	SQLiteDSN     string        `env:"SQLITE_DSN" envDefault:"file:tanyaaja.db"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"3s"`
	OwnerCacheTTL time.Duration `env:"OWNER_CACHE_TTL" envDefault:"0s"`
	SeedFile      string        `env:"SEED_FILE"`
}

type Database struct {
	URL        string `env:"URL"`
	RequireTLS bool   `env:"REQUIRE_TLS"`
	MaxConns   int32  `env:"MAX_CONNS" envDefault:"10"`
}

type Redis struct {
	Addr             string `env:"ADDR"`
	Password         string `env:"PASSWORD"`
	DB               int    `env:"DB"`
	TLS              bool   `env:"TLS"`
	RequireTLS       bool   `env:"REQUIRE_TLS"`
	TLSInsecure      bool   `env:"TLS_INSECURE"`
	AllowInsecureTLS bool   `env:"ALLOW_INSECURE_TLS"`
	TLSServerName    string `env:"TLS_SERVER_NAME"`
	CACertFile       string `env:"TLS_CA_CERT_FILE"`
	CertFile         string `env:"TLS_CERT_FILE"`
	KeyFile          string `env:"TLS_KEY_FILE"`
}

type Kafka struct {
	Brokers       []string `env:"BROKERS" envSeparator:","`
	QuestionTopic string   `env:"QUESTION_TOPIC" envDefault:"tanyaaja.questions"`
}

// Load reads the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom reads configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := ratelimit.ParseFailurePolicy(c.RateLimit.FailurePolicy); err != nil {
		return err
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("RATE_LIMIT_LIMIT must be positive, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimit.Window)
	}
	if t := c.Recaptcha.ScoreThreshold; t <= 0 || t >= 1 {
		return fmt.Errorf("RECAPTCHA_SCORE_THRESHOLD must be in (0,1), got %v", t)
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.MaxQuestionLength <= 0 {
		return fmt.Errorf("MAX_QUESTION_LENGTH must be positive")
	}
	switch c.StoreDriver() {
	case DriverPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("STORE_DRIVER=postgres: %w", store.ErrNoDatabase)
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Sink() {
	case SinkDatabase:
	case SinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("QUESTION_SINK=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unsupported QUESTION_SINK %q", c.QuestionSink)
	}
	return nil
}

func (c Config) StoreDriver() string {
	return strings.ToLower(strings.TrimSpace(c.Store.Driver))
}

func (c Config) Sink() string {
	return strings.ToLower(strings.TrimSpace(c.QuestionSink))
}

func (c Config) FailurePolicy() ratelimit.FailurePolicy {
	p, _ := ratelimit.ParseFailurePolicy(c.RateLimit.FailurePolicy)
	return p
}

func (c Config) VerifyURL() string {
	if u := strings.TrimSpace(c.Recaptcha.VerifyURL); u != "" {
		return u
	}
	return captcha.DefaultVerifyURL
}

// SlogLevel parses LOG_LEVEL, falling back to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c Config) Hardening() hardening.Options {
	return hardening.Options{
		Service:               "tanyaaja",
		Environment:           c.AppEnv,
		VerificationBypass:    c.VerificationBypass,
		RecaptchaSecret:       c.Recaptcha.SecretKey,
		StrictProdSecurity:    c.StrictProdSecurity,
		StoreDriver:           c.StoreDriver(),
		DatabaseRequireTLS:    c.Database.RequireTLS,
		RedisAddr:             c.Redis.Addr,
		RedisRequireTLS:       c.Redis.RequireTLS,
		RedisTLSInsecure:      c.Redis.TLSInsecure,
		RedisAllowInsecureTLS: c.Redis.AllowInsecureTLS,
		CORSAllowedOrigins:    c.CORSAllowedOrigins,
	}
}

func (c Config) RedisOptions() store.RedisOptions {
	return store.RedisOptions{
		Addr:             c.Redis.Addr,
		Password:         c.Redis.Password,
		DB:               c.Redis.DB,
		TLS:              c.Redis.TLS,
		RequireTLS:       c.Redis.RequireTLS,
		TLSInsecure:      c.Redis.TLSInsecure,
		AllowInsecureTLS: c.Redis.AllowInsecureTLS,
		TLSServerName:    c.Redis.TLSServerName,
		CACertFile:       c.Redis.CACertFile,
		CertFile:         c.Redis.CertFile,
		KeyFile:          c.Redis.KeyFile,
	}
}

func (c Config) PostgresOptions() store.PostgresOptions {
	return store.PostgresOptions{
		URL:        c.Database.URL,
		RequireTLS: c.Database.RequireTLS,
		MaxConns:   c.Database.MaxConns,
	}
}
