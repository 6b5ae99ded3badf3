// Package config loads a single, statically typed configuration record at
// startup (spec.md §6, §9's "Dynamic config objects" redesign note). Unknown
// env keys are never silently coerced; booleans are parsed explicitly so the
// source's "false" == true bug cannot recur here.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env    string
	DBURL  string
	DBPool int32

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VendorURL            string
	VendorRequestTimeout time.Duration

	DailyCron    string
	MinuteCron   string
	RecoveryCron string

	PrecalcHorizonDays int

	WorkerConcurrency  int
	WorkerPrefetch     int
	MaxWorkerRetries   int
	MaxRecoveryRetries int

	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffCap    time.Duration

	CircuitTimeout   time.Duration
	CircuitThreshold float64
	CircuitReset     time.Duration

	StrandedGrace        time.Duration
	StrandedHardLateness time.Duration
	WorkerStaleTimeout   time.Duration

	SchedulerShutdownGrace time.Duration
	WorkerDrainWindow      time.Duration

	AdminAddr string

	OtelEnabled  bool
	OtelEndpoint string
}

// Load reads .env (if present, dev convenience only — mirrors the teacher's
// godotenv use) then the process environment, and fails fast on any
// malformed value instead of silently defaulting.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:    getEnv("APP_ENV", "dev"),
		DBURL:  buildDBURL(),
		DBPool: 20,

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       0,

		VendorURL:            getEnv("VENDOR_URL", "http://localhost:9090"),
		VendorRequestTimeout: 30 * time.Second,

		DailyCron:    getEnv("DAILY_CRON", "0 0 * * *"),
		MinuteCron:   getEnv("MINUTE_CRON", "* * * * *"),
		RecoveryCron: getEnv("RECOVERY_CRON", "*/10 * * * *"),

		PrecalcHorizonDays: 1,

		WorkerConcurrency:  5,
		MaxWorkerRetries:   3,
		MaxRecoveryRetries: 3,

		BackoffBase:   1 * time.Second,
		BackoffFactor: 2,
		BackoffCap:    10 * time.Second,

		CircuitTimeout:   30 * time.Second,
		CircuitThreshold: 0.5,
		CircuitReset:     30 * time.Second,

		StrandedGrace:        5 * time.Minute,
		StrandedHardLateness: 24 * time.Hour,
		WorkerStaleTimeout:   2 * time.Minute,

		SchedulerShutdownGrace: 5 * time.Second,
		WorkerDrainWindow:      10 * time.Second,

		AdminAddr: getEnv("ADMIN_ADDR", ":8081"),

		OtelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.DBPool, err = getEnvInt32("DB_POOL_SIZE", cfg.DBPool); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return Config{}, err
	}
	if cfg.PrecalcHorizonDays, err = getEnvInt("PRECALC_HORIZON_DAYS", cfg.PrecalcHorizonDays); err != nil {
		return Config{}, err
	}
	if cfg.PrecalcHorizonDays < 1 {
		return Config{}, fmt.Errorf("PRECALC_HORIZON_DAYS must be >= 1, got %d", cfg.PrecalcHorizonDays)
	}
	if cfg.WorkerConcurrency, err = getEnvInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.WorkerConcurrency < 1 {
		return Config{}, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", cfg.WorkerConcurrency)
	}
	cfg.WorkerPrefetch = cfg.WorkerConcurrency

	if cfg.MaxWorkerRetries, err = getEnvInt("MAX_WORKER_RETRIES", cfg.MaxWorkerRetries); err != nil {
		return Config{}, err
	}
	if cfg.MaxRecoveryRetries, err = getEnvInt("MAX_RECOVERY_RETRIES", cfg.MaxRecoveryRetries); err != nil {
		return Config{}, err
	}

	if cfg.OtelEnabled, err = getEnvBool("OTEL_ENABLED", false); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "birthdaysvc")
	pass := getEnv("DB_PASSWORD", "birthdaysvc")
	name := getEnv("DB_NAME", "birthdaysvc")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvInt32(key string, fallback int32) (int32, error) {
	n, err := getEnvInt(key, int(fallback))
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

// getEnvBool parses boolean env vars explicitly. Unlike a reflection-based
// coercion (the source's bug: the string "false" coerced to Go-truthy true),
// only a fixed set of tokens is accepted and anything else fails fast.
func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0":
		return false, nil
	case "true", "1":
		return true, nil
	default:
		return false, fmt.Errorf("%s: invalid boolean %q (want true/false/1/0)", key, v)
	}
}
