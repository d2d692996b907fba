package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authflow"
)

type serverConfig struct {
	Env      string
	LogLevel string
	HTTPAddr string
	Release  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DatabaseURL string
	// DemoAccount seeds bob@example.com into an in-memory store when no
	// database is configured. Development only.
	DemoAccount bool

	KafkaBrokers    []string
	AuditTopic      string
	EmailCodesTopic string

	SentryDSN      string
	AllowedOrigins []string

	Engine authflow.Config
}

func loadConfig() (serverConfig, error) {
	cfg := serverConfig{
		Env:             envOrDefault("APP_ENV", "development"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		Release:         os.Getenv("RELEASE"),
		RedisAddr:       envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:      envOrDefault("KAFKA_AUDIT_TOPIC", "authflow.audit"),
		EmailCodesTopic: envOrDefault("KAFKA_EMAIL_CODES_TOPIC", "authflow.email-codes"),
		SentryDSN:       os.Getenv("SENTRY_DSN"),
		AllowedOrigins:  splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.DemoAccount, err = envBool("AUTHFLOW_DEMO_ACCOUNT", false); err != nil {
		return cfg, err
	}

	e := authflow.DefaultConfig()
	e.JWT.SigningMethod = envOrDefault("JWT_SIGNING_METHOD", e.JWT.SigningMethod)
	e.JWT.Issuer = envOrDefault("JWT_ISSUER", e.JWT.Issuer)
	e.JWT.Audience = envOrDefault("JWT_AUDIENCE", e.JWT.Audience)
	if e.JWT.PrivateKey, err = loadKey("JWT_PRIVATE_KEY"); err != nil {
		return cfg, err
	}
	if e.JWT.PublicKey, err = loadKey("JWT_PUBLIC_KEY"); err != nil {
		return cfg, err
	}
	if e.JWT.AccessTTL, err = envDuration("JWT_ACCESS_TTL", e.JWT.AccessTTL); err != nil {
		return cfg, err
	}
	if e.JWT.RefreshTTL, err = envDuration("JWT_REFRESH_TTL", e.JWT.RefreshTTL); err != nil {
		return cfg, err
	}
	if e.EmailCode.TTL, err = envDuration("EMAIL_CODE_TTL", e.EmailCode.TTL); err != nil {
		return cfg, err
	}
	if e.EmailCode.ResendCooldown, err = envDuration("EMAIL_CODE_RESEND_COOLDOWN", e.EmailCode.ResendCooldown); err != nil {
		return cfg, err
	}
	if e.Login.MaxAttempts, err = envInt("LOGIN_MAX_ATTEMPTS", e.Login.MaxAttempts); err != nil {
		return cfg, err
	}
	skew, err := envInt("TOTP_SKEW", int(e.TwoFactor.Skew))
	if err != nil {
		return cfg, err
	}
	if skew < 0 {
		return cfg, errors.New("TOTP_SKEW must be >= 0")
	}
	e.TwoFactor.Skew = uint(skew)
	e.TwoFactor.Issuer = envOrDefault("TOTP_ISSUER", e.TwoFactor.Issuer)
	cfg.Engine = e

	if cfg.DemoAccount && cfg.DatabaseURL != "" {
		return cfg, errors.New("AUTHFLOW_DEMO_ACCOUNT cannot be combined with DATABASE_URL")
	}
	if cfg.DatabaseURL == "" && !cfg.DemoAccount {
		return cfg, errors.New("DATABASE_URL is required")
	}
	if len(cfg.KafkaBrokers) == 0 && !strings.EqualFold(cfg.Env, "development") {
		return cfg, errors.New("KAFKA_BROKERS is required outside development: email codes are delivered through Kafka")
	}
	return cfg, nil
}

// loadKey reads NAME as base64, or the file named by NAME_FILE (PEM).
func loadKey(name string) ([]byte, error) {
	if path := os.Getenv(name + "_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s_FILE: %w", name, err)
		}
		return b, nil
	}
	v := os.Getenv(name)
	if v == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
