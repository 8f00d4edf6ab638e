package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/tempo/api"
	"github.com/xraph/tempo/dlq"
	"github.com/xraph/tempo/job"
)

// ──────────────────────────────────────────────────
// worker / serve
// ──────────────────────────────────────────────────

func runWorker(ctx context.Context, cfg Config) error {
	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "tempo worker starting",
		"env", cfg.Env,
		"queues", cfg.Tempo.Queues,
		"concurrency", cfg.Tempo.Concurrency,
	)

	if err := a.eng.Start(ctx); err != nil {
		a.close(ctx)
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	return a.shutdown(ctx, cfg)
}

func runServe(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":"+cfg.Port, "listen address")
	workers := fs.Bool("workers", true, "also run the worker pool, maintainer and schedule firer")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	if *workers {
		if err := a.eng.Start(ctx); err != nil {
			a.close(ctx)
			return err
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	apiOpts := []api.Option{api.WithLogger(a.logger)}
	if cfg.OTel.Enabled() {
		apiOpts = append(apiOpts, api.WithTracing(cfg.OTel.ServiceName))
	}
	server := &http.Server{
		Addr:              *addr,
		Handler:           api.New(a.eng, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		a.logger.InfoContext(ctx, "http server starting", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.InfoContext(ctx, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	serveErr := g.Wait()

	if !*workers {
		a.close(ctx)
		return serveErr
	}
	return errors.Join(serveErr, a.shutdown(ctx, cfg))
}

// shutdown stops a started engine within the configured timeout and
// flushes telemetry.
func (a *app) shutdown(ctx context.Context, cfg Config) error {
	// Slack over the pool's own drain timeout for the remaining runners.
	timeout := cfg.Tempo.ShutdownTimeout + 5*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := a.eng.Stop(shutdownCtx)
	if err != nil {
		a.logger.ErrorContext(shutdownCtx, "engine stop error", "error", err)
	}
	shutdownTelemetry(shutdownCtx, a.telemetry, a.logger)
	a.logger.InfoContext(shutdownCtx, "shutdown complete")
	return err
}

// ──────────────────────────────────────────────────
// Operator commands
// ──────────────────────────────────────────────────

func runEnqueue(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	queueName := fs.String("queue", "", "target queue (default \"default\")")
	delay := fs.Duration("delay", 0, "run after this delay")
	retries := fs.Int("retries", -1, "maximum retries (default policy when negative)")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		return errUsage
	}

	jobArgs, err := parseArgs(fs.Args()[1:])
	if err != nil {
		return err
	}
	var opts []job.Option
	if *queueName != "" {
		opts = append(opts, job.WithQueue(*queueName))
	}
	if *delay > 0 {
		opts = append(opts, job.WithDelay(*delay))
	}
	if *retries >= 0 {
		opts = append(opts, job.WithMaxRetries(*retries))
	}

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	j, err := a.eng.Enqueue(ctx, fs.Arg(0), jobArgs, opts...)
	if err != nil {
		return err
	}
	return writeJSON(out, j)
}

// parseArgs decodes each positional argument as JSON, falling back to a
// plain string for values that are not valid JSON.
func parseArgs(raw []string) (job.Args, error) {
	args := make(job.Args, 0, len(raw))
	for _, s := range raw {
		if json.Valid([]byte(s)) {
			args = append(args, json.RawMessage(s))
			continue
		}
		b, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		args = append(args, b)
	}
	return args, nil
}

func runDead(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dead", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum entries")
	offset := fs.Int("offset", 0, "entries to skip")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	entries, err := a.eng.DLQService().List(ctx, dlq.ListOpts{Limit: *limit, Offset: *offset})
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, entries)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLASS\tQUEUE\tRETRIES\tFAILED AT\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.ID, e.Kind, e.Queue, e.RetryCount, e.MaxRetries,
			e.FailedAt.Format(time.RFC3339), e.Error)
	}
	return tw.Flush()
}

func runReplay(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	j, err := a.eng.DLQService().Replay(ctx, args[0])
	if err != nil {
		return err
	}
	return writeJSON(out, j)
}

func runSchedule(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	schedules := a.eng.Schedules()

	switch sub {
	case "list":
		entries, err := schedules.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCADENCE\tCLASS\tENABLED\tNEXT RUN")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
				e.Name, e.Cadence, e.Template.Kind, e.Enabled, e.NextRunAt.Format(time.RFC3339))
		}
		return tw.Flush()

	case "reconcile":
		changes, err := schedules.Reconcile(ctx, time.Now())
		if err != nil {
			return err
		}
		return writeJSON(out, changes)

	case "enable", "disable":
		if len(args) != 2 {
			return errUsage
		}
		e, err := schedules.SetEnabled(ctx, args[1], sub == "enable", time.Now())
		if err != nil {
			return err
		}
		return writeJSON(out, e)

	default:
		return errUsage
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
