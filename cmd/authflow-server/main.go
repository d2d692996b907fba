// Command authflow-server serves the authflow HTTP API.
//
// Configuration comes from the environment; a .env file in the working
// directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/audit/kafkasink"
	"github.com/MrEthical07/authflow/httpapi"
	"github.com/MrEthical07/authflow/internal/memstore"
	"github.com/MrEthical07/authflow/internal/observability"
	"github.com/MrEthical07/authflow/mailer"
	promexport "github.com/MrEthical07/authflow/metrics/export/prometheus"
	"github.com/MrEthical07/authflow/password"
	"github.com/MrEthical07/authflow/pgstore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := observability.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server_failed", zap.Error(err))
		observability.FlushSentry()
		os.Exit(1)
	}
}

func run(cfg serverConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release); err != nil {
		log.Warn("init_sentry_failed", zap.Error(err))
	}
	defer observability.FlushSentry()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	accounts, ready, closeStore, err := openAccounts(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		sender authflow.CodeSender
		sinks  authflow.MultiSink
	)
	sinks = append(sinks, authflow.NewZapSink(log.Named("audit")))
	if len(cfg.KafkaBrokers) > 0 {
		ks, err := mailer.NewKafkaSender(cfg.KafkaBrokers, cfg.EmailCodesTopic, log)
		if err != nil {
			return err
		}
		defer func() { _ = ks.Close() }()
		sender = ks

		as, err := kafkasink.New(kafkasink.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.AuditTopic, Async: true}, log)
		if err != nil {
			return err
		}
		defer func() { _ = as.Close() }()
		sinks = append(sinks, as)
	} else {
		log.Warn("no KAFKA_BROKERS: email codes are written to the log")
		sender = mailer.NewLogSender(log)
	}

	engine, err := authflow.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithAccountStore(accounts).
		WithCodeSender(sender).
		WithAuditSink(sinks).
		WithLogger(log).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	log.Info("security_report",
		zap.String("signing_algorithm", report.SigningAlgorithm),
		zap.Duration("access_ttl", report.AccessTTL),
		zap.Bool("totp_replay_protection", report.TOTPReplayProtection),
		zap.Strings("warnings", report.Warnings),
	)

	handler := httpapi.NewRouter(engine, httpapi.Options{
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        promexport.NewCollector(engine).Handler(),
		Ready: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return err
			}
			return ready(ctx)
		},
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openAccounts returns the account store, its readiness probe, and a close
// function.
func openAccounts(ctx context.Context, cfg serverConfig, log *zap.Logger) (authflow.AccountStore, func(context.Context) error, func(), error) {
	if cfg.DatabaseURL != "" {
		store, err := pgstore.Open(ctx, cfg.DatabaseURL, log.Named("pgstore"))
		if err != nil {
			return nil, nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		return store, store.Ping, store.Close, nil
	}

	store := memstore.New()
	p := cfg.Engine.Password
	hasher, err := password.New(password.Config{
		Memory:      p.Memory,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	hash, err := hasher.Hash("Secret123")
	if err != nil {
		return nil, nil, nil, err
	}
	bob := store.AddAccount(authflow.AccountRecord{Email: "bob@example.com", DisplayName: "Bob", PasswordHash: hash})
	log.Warn("demo account seeded in memory", zap.String("email", bob.Email), zap.String("account_id", bob.ID))
	return store, func(context.Context) error { return nil }, func() {}, nil
}
