package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/cron"
	"github.com/xraph/tempo/logging"
	"github.com/xraph/tempo/telemetry"
)

// Config is everything a tempo process reads from its environment.
type Config struct {
	Env  string
	Port string

	RedisURL    string
	RedisPrefix string
	TLS         broker.TLSPolicy

	ScheduleFile string
	LogLevel     string

	Tempo tempo.Config
	OTel  telemetry.Config
}

// IsProduction reports whether TEMPO_ENV is production.
func (c Config) IsProduction() bool { return c.Env == "production" }

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Production:  c.IsProduction(),
		Level:       c.LogLevel,
		OTel:        c.OTel.Enabled(),
		ServiceName: c.OTel.ServiceName,
	}
}

// LoadConfig reads the environment, loading .env first outside production.
func LoadConfig() (Config, error) {
	if getEnv("TEMPO_ENV", "development") != "production" {
		_ = godotenv.Load(".env")
	}

	tc := tempo.DefaultConfig()
	tc.Concurrency = getEnvInt("TEMPO_CONCURRENCY", tc.Concurrency)
	tc.Queues = getEnvList("TEMPO_QUEUES", tc.Queues)
	tc.PopTimeout = getEnvDuration("TEMPO_POP_TIMEOUT", tc.PopTimeout)
	tc.VisibilityTimeout = getEnvDuration("TEMPO_VISIBILITY_TIMEOUT", tc.VisibilityTimeout)
	tc.PromoteInterval = getEnvDuration("TEMPO_PROMOTE_INTERVAL", tc.PromoteInterval)
	tc.TickInterval = getEnvDuration("TEMPO_TICK_INTERVAL", tc.TickInterval)
	tc.LeaderTTL = getEnvDuration("TEMPO_LEADER_TTL", tc.LeaderTTL)
	tc.ShutdownTimeout = getEnvDuration("TEMPO_SHUTDOWN_TIMEOUT", tc.ShutdownTimeout)
	if tz := getEnv("TEMPO_TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("TEMPO_TIMEZONE: %w", err)
		}
		tc.Location = loc
	}

	cfg := Config{
		Env:          getEnv("TEMPO_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:  getEnv("REDIS_PREFIX", "tempo:"),
		ScheduleFile: getEnv("SCHEDULE_FILE", cron.DefaultScheduleFile),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		TLS: broker.TLSPolicy{
			Enabled:            getEnvBool("REDIS_TLS", false),
			InsecureSkipVerify: getEnvBool("REDIS_TLS_INSECURE", false),
		},
		Tempo: tc,
		OTel: telemetry.Config{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "tempo"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
	}
	if err := cfg.Tempo.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
