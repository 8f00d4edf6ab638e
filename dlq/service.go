package dlq

import (
	"context"

	"github.com/xraph/tempo/broker"
	"github.com/xraph/tempo/job"
)

// ListOpts controls pagination for List.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means 50.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Enqueuer puts a job back on a queue. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job) error
}

// Service provides dead-set operations over a broker.
type Service struct {
	broker  broker.Queue
	enqueue Enqueuer
}

// NewService creates a dead-set service. enqueue is used by Replay and may
// be nil for read-only use.
func NewService(b broker.Queue, enqueue Enqueuer) *Service {
	return &Service{broker: b, enqueue: enqueue}
}

// List returns dead entries, most recently failed first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.broker.Dead(ctx, opts.Offset, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, fromMessage(m))
	}
	return entries, nil
}

// Get returns one dead entry or tempo.ErrDeadNotFound.
func (s *Service) Get(ctx context.Context, entryID string) (*Entry, error) {
	msg, err := s.broker.DeadGet(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return fromMessage(msg), nil
}

// Delete removes a dead entry or returns tempo.ErrDeadNotFound.
func (s *Service) Delete(ctx context.Context, entryID string) error {
	return s.broker.DeadDelete(ctx, entryID)
}

// Purge removes every dead entry and returns how many were removed.
func (s *Service) Purge(ctx context.Context) (int, error) {
	return s.broker.DeadPurge(ctx)
}

// Count returns the number of dead entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	st, err := s.broker.Stats(ctx, nil)
	if err != nil {
		return 0, err
	}
	return st.Dead, nil
}
