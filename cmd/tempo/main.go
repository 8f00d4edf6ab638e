// Command tempo runs tempo workers, the HTTP API and operator commands
// against a Redis broker.
//
// Usage:
//
//	tempo worker
//	tempo serve [-addr :8080]
//	tempo enqueue [-queue q] [-delay d] [-retries n] KIND [ARG...]
//	tempo dead [-limit n] [-offset n]
//	tempo replay ID
//	tempo schedule [list|reconcile|enable NAME|disable NAME]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	_ "time/tzdata"
)

const usage = `usage: tempo <command> [flags]

commands:
  worker     run a worker process (pool, maintainer, schedule firer)
  serve      run the HTTP API
  enqueue    enqueue a job: tempo enqueue KIND [JSON_ARG...]
  dead       list dead jobs
  replay     replay a dead job by id
  schedule   list, reconcile, enable or disable schedule entries
`

var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	err := run(ctx, os.Args[1], os.Args[2:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	default:
		slog.ErrorContext(ctx, "tempo failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch cmd {
	case "worker":
		return runWorker(ctx, cfg)
	case "serve":
		return runServe(ctx, cfg, args)
	case "enqueue":
		return runEnqueue(ctx, cfg, args, out)
	case "dead":
		return runDead(ctx, cfg, args, out)
	case "replay":
		return runReplay(ctx, cfg, args, out)
	case "schedule":
		return runSchedule(ctx, cfg, args, out)
	default:
		return errUsage
	}
}
