package backoff

import (
	"context"
	"time"
)

// Retry calls fn until it succeeds, returns an error that retryable rejects,
// or attempts calls have been made. Between calls it sleeps for
// s.Delay(n) where n is the number of failures so far. It returns the last
// error from fn, or ctx.Err() if the context ends while waiting.
func Retry(ctx context.Context, s Strategy, attempts int, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 1; ; n++ {
		err = fn(ctx)
		if err == nil || !retryable(err) || n >= attempts {
			return err
		}

		timer := time.NewTimer(s.Delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
