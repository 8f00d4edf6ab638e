package main

import (
	"context"
	"log/slog"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/backoff"
	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/broker/redis"
	"github.com/xraph/tempo/cron"
	"github.com/xraph/tempo/engine"
	"github.com/xraph/tempo/logging"
	"github.com/xraph/tempo/telemetry"
)

// app is a built engine plus the telemetry it exports through.
type app struct {
	eng       *engine.Engine
	telemetry *telemetry.Telemetry
	logger    *slog.Logger
}

// setup initialises telemetry and logging, connects the broker, loads the
// schedule file and builds the engine with the built-in handlers.
func setup(ctx context.Context, cfg Config) (*app, error) {
	// Telemetry first: the logger bridges to its provider.
	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.Logging())

	rb, err := redis.Connect(ctx, cfg.RedisURL, cfg.TLS,
		redis.WithPrefix(cfg.RedisPrefix),
		redis.WithLogger(logger),
	)
	if err != nil {
		shutdownTelemetry(ctx, tel, logger)
		return nil, err
	}
	b := broker.WithRetry(rb, backoff.TransportStrategy(), 5)

	sched, err := cron.LoadFile(cfg.ScheduleFile)
	if err != nil {
		_ = rb.Close()
		shutdownTelemetry(ctx, tel, logger)
		return nil, err
	}

	d, err := tempo.New(
		tempo.WithConfig(cfg.Tempo),
		tempo.WithBroker(b),
		tempo.WithLogger(logger),
	)
	if err != nil {
		_ = rb.Close()
		shutdownTelemetry(ctx, tel, logger)
		return nil, err
	}

	opts := []engine.Option{engine.WithSchedule(sched)}
	if tel != nil {
		opts = append(opts, engine.WithTracerProvider(tel.TracerProvider()))
	}
	eng, err := engine.Build(d, opts...)
	if err != nil {
		_ = rb.Close()
		shutdownTelemetry(ctx, tel, logger)
		return nil, err
	}
	if err := registerBuiltins(eng); err != nil {
		_ = rb.Close()
		shutdownTelemetry(ctx, tel, logger)
		return nil, err
	}

	return &app{eng: eng, telemetry: tel, logger: logger}, nil
}

// close releases the broker and flushes telemetry for processes that never
// started the engine.
func (a *app) close(ctx context.Context) {
	if err := a.eng.Broker().Close(); err != nil {
		a.logger.WarnContext(ctx, "broker close error", "error", err)
	}
	shutdownTelemetry(ctx, a.telemetry, a.logger)
}

func shutdownTelemetry(ctx context.Context, tel *telemetry.Telemetry, logger *slog.Logger) {
	if tel == nil {
		return
	}
	if err := tel.Shutdown(ctx); err != nil {
		logger.ErrorContext(ctx, "otel shutdown error", "error", err)
	}
}
