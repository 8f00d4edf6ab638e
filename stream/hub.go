package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/tempo/ext"
	"github.com/xraph/tempo/id"
	"github.com/xraph/tempo/job"
)

var (
	_ ext.Extension         = (*Hub)(nil)
	_ ext.JobEnqueued       = (*Hub)(nil)
	_ ext.JobStarted        = (*Hub)(nil)
	_ ext.JobCompleted      = (*Hub)(nil)
	_ ext.JobFailed         = (*Hub)(nil)
	_ ext.JobRetrying       = (*Hub)(nil)
	_ ext.JobDead           = (*Hub)(nil)
	_ ext.CronFired         = (*Hub)(nil)
	_ ext.LeadershipChanged = (*Hub)(nil)
	_ ext.Shutdown          = (*Hub)(nil)
)

// DefaultBufferSize is the default per-subscriber buffer.
const DefaultBufferSize = 256

// Hub receives lifecycle events as an extension and fans them out to
// subscribers by topic. Events are process-local: a hub sees what its own
// process enqueues, runs and fires.
type Hub struct {
	topics *topicRegistry
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	published atomic.Int64
	dropped   atomic.Int64

	bufferSize int
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-subscriber buffer size.
func WithBufferSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics:      newTopicRegistry(),
		logger:      slog.Default(),
		now:         time.Now,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Hub) Name() string { return "stream" }

// Subscribe registers a subscriber on the given topics. With no topics it
// receives the firehose.
func (h *Hub) Subscribe(topics ...string) (*Subscriber, error) {
	for _, t := range topics {
		if err := ValidateTopic(t); err != nil {
			return nil, err
		}
	}
	if len(topics) == 0 {
		topics = []string{TopicFirehose}
	}

	sub := newSubscriber(uuid.NewString(), h.bufferSize)
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	for _, t := range topics {
		h.topics.subscribe(t, sub)
	}
	return sub, nil
}

// Unsubscribe removes a subscriber from every topic and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.topics.unsubscribeAll(sub.id)
	h.mu.Lock()
	delete(h.subscribers, sub.id)
	h.mu.Unlock()
	sub.close()
}

// Stats reports hub counters.
type Stats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.subscribers)
	h.mu.Unlock()
	return Stats{
		Topics:      h.topics.count(),
		Subscribers: n,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

func (h *Hub) publish(typ EventType, topics []string, entityTopic string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("stream: marshal event", "type", typ, "error", err)
		return
	}
	evt := &Event{Type: typ, Timestamp: h.now().UTC(), Topic: entityTopic, Data: raw}
	delivered, dropped := h.topics.broadcast(append(topics, TopicFirehose), evt)
	h.published.Add(int64(delivered))
	h.dropped.Add(int64(dropped))
}

func (h *Hub) publishJob(typ EventType, j *job.Job, data JobEventData) {
	data.JobID = j.ID.String()
	data.Class = j.Kind
	data.Queue = j.Queue
	data.Schedule = j.Schedule
	topic := JobTopic(data.JobID)
	h.publish(typ, []string{TopicJobs, topic, QueueTopic(j.Queue), ClassTopic(j.Kind)}, topic, data)
}

// ── Job lifecycle hooks ─────────────────────────────

func (h *Hub) OnJobEnqueued(_ context.Context, j *job.Job) error {
	h.publishJob(EventJobEnqueued, j, JobEventData{})
	return nil
}

func (h *Hub) OnJobStarted(_ context.Context, j *job.Job) error {
	h.publishJob(EventJobStarted, j, JobEventData{Attempt: j.Attempts()})
	return nil
}

func (h *Hub) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	h.publishJob(EventJobCompleted, j, JobEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (h *Hub) OnJobFailed(_ context.Context, j *job.Job, err error) error {
	h.publishJob(EventJobFailed, j, JobEventData{Error: err.Error(), Attempt: j.Attempts()})
	return nil
}

func (h *Hub) OnJobRetrying(_ context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	h.publishJob(EventJobRetrying, j, JobEventData{Attempt: attempt, NextRunAt: nextRunAt.UTC().Format(time.RFC3339)})
	return nil
}

func (h *Hub) OnJobDead(_ context.Context, j *job.Job, err error) error {
	h.publishJob(EventJobDead, j, JobEventData{Error: err.Error()})
	return nil
}

// ── Schedule and cluster hooks ──────────────────────

func (h *Hub) OnCronFired(_ context.Context, entryName string, jobID id.JobID) error {
	h.publish(EventScheduleFired, []string{TopicSchedules}, "", ScheduleEventData{Entry: entryName, JobID: jobID.String()})
	return nil
}

func (h *Hub) OnLeadershipChanged(_ context.Context, owner string, leader bool) error {
	h.publish(EventLeadershipChanged, []string{TopicCluster}, "", LeadershipEventData{Owner: owner, Leader: leader})
	return nil
}

// OnShutdown closes every subscriber.
func (h *Hub) OnShutdown(_ context.Context) error {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		h.topics.unsubscribeAll(sub.id)
		sub.close()
	}
	h.logger.Info("stream hub shut down", "subscribers", len(subs))
	return nil
}
