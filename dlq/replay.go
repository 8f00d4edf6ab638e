package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/id"
	"github.com/xraph/tempo/job"
)

// Replay re-enqueues a dead entry as a new job and removes the entry. The
// new job gets a fresh ID, zero retry count, and runs immediately. Entries
// that never decoded cannot be replayed.
func (s *Service) Replay(ctx context.Context, entryID string) (*job.Job, error) {
	if s.enqueue == nil {
		return nil, errors.New("dlq: replay needs an enqueuer")
	}

	entry, err := s.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.job == nil {
		return nil, tempo.Validationf("dead entry %s is not a job descriptor", entryID)
	}

	j := *entry.job
	j.ID = id.NewJobID()
	j.EnqueuedAt = time.Now().UTC()
	j.RunAt = time.Time{}
	j.RetryCount = 0
	j.LastError = ""
	j.FailedAt = nil

	if err := s.enqueue.Enqueue(ctx, &j); err != nil {
		return nil, fmt.Errorf("dlq: replay %s: %w", entryID, err)
	}

	// The copy is queued; a failed delete leaves a duplicate dead entry,
	// never a lost job.
	if err := s.broker.DeadDelete(ctx, entryID); err != nil {
		return &j, err
	}
	return &j, nil
}
