package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/Namchee/tanyaaja/pkg/captcha"
	"github.com/Namchee/tanyaaja/pkg/clientip"
	"github.com/Namchee/tanyaaja/pkg/config"
	"github.com/Namchee/tanyaaja/pkg/hardening"
	"github.com/Namchee/tanyaaja/pkg/metrics"
	"github.com/Namchee/tanyaaja/pkg/questionbus"
	"github.com/Namchee/tanyaaja/pkg/ratelimit"
	"github.com/Namchee/tanyaaja/pkg/store"
	"github.com/Namchee/tanyaaja/pkg/submission"
	"github.com/Namchee/tanyaaja/pkg/telemetry"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	loadConfig      = config.Load
	initTelemetry   = telemetry.Init
	openPostgres    = store.NewPostgresPool
	openSQLite      = store.OpenSQLite
	openRedis       = store.NewRedis
	openKafkaWriter = func(cfg questionbus.KafkaConfig) (questionWriterCloser, error) {
		return questionbus.NewKafkaWriter(cfg)
	}
	listen = func(srv *http.Server) error { return srv.ListenAndServe() }
)

type questionWriterCloser interface {
	store.QuestionWriter
	Close() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logFatalf("tanyaaja: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fs := pflag.NewFlagSet("tanyaaja", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (overrides ADDR)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	bypass, err := hardening.Validate(cfg.Hardening())
	if err != nil {
		return err
	}
	if bypass {
		logger.Warn("verification bypass active; rate limiting and captcha are disabled", "app_env", cfg.AppEnv)
	}

	shutdownTelemetry, err := initTelemetry(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	resolver, invalid := clientip.NewResolver(cfg.TrustedProxyCIDRs)
	if len(invalid) > 0 {
		logger.Warn("ignoring invalid TRUSTED_PROXY_CIDRS entries", "entries", invalid)
	}

	redisClient, err := openRedis(ctx, cfg.RedisOptions())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	reg := metrics.NewRegistry()
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	var directory store.Directory = be.directory
	if ttl := cfg.Store.OwnerCacheTTL; ttl > 0 {
		directory = &store.CachedDirectory{Next: directory, Cache: store.NewCache(redisClient), TTL: ttl, Prefix: "tanyaaja:"}
		reg.SetGauge("owner_cache_ttl_seconds", ttl.Seconds())
	}

	writer := be.writer
	if cfg.Sink() == config.SinkKafka {
		kw, err := openKafkaWriter(questionbus.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.QuestionTopic})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer kw.Close()
		writer = kw
	}

	pipeline := &submission.Pipeline{
		Limiter:             newLimiter(cfg, redisClient, logger),
		Verifier:            newVerifier(cfg),
		Directory:           directory,
		Writer:              writer,
		DevMode:             bypass,
		Threshold:           cfg.Recaptcha.ScoreThreshold,
		MaxQuestionLength:   cfg.MaxQuestionLength,
		AdmissionTimeout:    cfg.RateLimit.Timeout,
		VerificationTimeout: cfg.Recaptcha.Timeout,
		StoreTimeout:        cfg.Store.Timeout,
		Logger:              logger,
		Recorder:            reg,
		Tracer:              telemetry.Tracer("github.com/Namchee/tanyaaja/pkg/submission"),
	}

	s := &Server{
		Pipeline:            pipeline,
		Resolver:            resolver,
		Metrics:             reg,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ServiceName:         cfg.Telemetry.ServiceName,
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	logger.Info("tanyaaja listening",
		"addr", cfg.Addr,
		"app_env", cfg.AppEnv,
		"store", cfg.StoreDriver(),
		"sink", cfg.Sink(),
		"rate_limit_policy", string(cfg.FailurePolicy()),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- listen(srv) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("tanyaaja shutting down")
		return srv.Shutdown(sctx)
	}
}

type backend struct {
	directory store.Directory
	writer    store.QuestionWriter
	seeder    store.OwnerSeeder
	close     func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	var b *backend
	switch cfg.StoreDriver() {
	case config.DriverPostgres:
		pool, err := openPostgres(ctx, cfg.PostgresOptions())
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		ps := &store.PostgresStore{DB: pool}
		b = &backend{directory: ps, writer: ps, seeder: ps, close: pool.Close}
	case config.DriverSQLite:
		ls, err := openSQLite(ctx, cfg.Store.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		b = &backend{directory: ls, writer: ls, seeder: ls, close: func() { _ = ls.Close() }}
	default:
		ms := store.NewMemoryStore()
		b = &backend{directory: ms, writer: ms, seeder: ms, close: func() {}}
	}
	if path := cfg.Store.SeedFile; path != "" {
		owners, err := store.LoadSeed(path)
		if err == nil {
			err = store.Seed(ctx, b.seeder, owners)
		}
		if err != nil {
			b.close()
			return nil, err
		}
		logger.Info("seeded owners", "count", len(owners), "file", path)
	}
	return b, nil
}

func newLimiter(cfg config.Config, client *redis.Client, logger *slog.Logger) ratelimit.Limiter {
	if client == nil {
		logger.Info("rate limiting with process-local counters")
		return ratelimit.NewInMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	l := ratelimit.NewRedis(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.FailurePolicy())
	if cfg.RateLimit.Prefix != "" {
		l.Prefix = cfg.RateLimit.Prefix
	}
	return l
}

func newVerifier(cfg config.Config) *captcha.RecaptchaClient {
	return &captcha.RecaptchaClient{
		HTTPClient: telemetry.InstrumentClient(&http.Client{Timeout: cfg.Recaptcha.Timeout}),
		VerifyURL:  cfg.VerifyURL(),
		Secret:     cfg.Recaptcha.SecretKey,
	}
}
