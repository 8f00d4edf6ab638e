package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/engine"
	"github.com/xraph/tempo/job"
)

// registerBuiltins installs the kinds every tempo binary can run, so a
// fresh deployment can be smoke-tested end to end.
func registerBuiltins(eng *engine.Engine) error {
	if err := eng.Register("tempo.Noop", job.HandlerFunc(noop)); err != nil {
		return err
	}
	if err := eng.Register("tempo.Echo", job.HandlerFunc(echo)); err != nil {
		return err
	}
	return engine.RegisterFunc(eng, "tempo.Sleep", sleep)
}

func noop(context.Context, job.Args) (job.Result, error) { return nil, nil }

// echo returns its arguments as a JSON array.
func echo(_ context.Context, args job.Args) (job.Result, error) {
	return json.Marshal(args)
}

// sleep waits for a duration such as "2s" and reports how long it slept.
func sleep(ctx context.Context, d string) (string, error) {
	dur, err := time.ParseDuration(d)
	if err != nil {
		return "", tempo.Discard(err)
	}
	select {
	case <-time.After(dur):
		return dur.String(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
