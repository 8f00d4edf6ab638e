package stream

import (
	"strings"
	"sync"

	"github.com/xraph/tempo"
)

// Topic names:
//
//	job:<jobID>      events for one job
//	queue:<name>     job events for one queue
//	class:<kind>     job events for one job class
//	jobs             every job event
//	schedules        schedule fires
//	cluster          leadership changes
//	firehose         everything
const (
	TopicJobs      = "jobs"
	TopicSchedules = "schedules"
	TopicCluster   = "cluster"
	TopicFirehose  = "firehose"
)

// JobTopic returns the topic for a single job.
func JobTopic(jobID string) string { return "job:" + jobID }

// QueueTopic returns the topic for a queue.
func QueueTopic(queue string) string { return "queue:" + queue }

// ClassTopic returns the topic for a job class.
func ClassTopic(kind string) string { return "class:" + kind }

// ValidateTopic reports whether topic is a known global topic or a
// well-formed entity topic.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicJobs, TopicSchedules, TopicCluster, TopicFirehose:
		return nil
	}
	kind, rest, ok := strings.Cut(topic, ":")
	if !ok || rest == "" {
		return tempo.Validationf("invalid topic %q", topic)
	}
	switch kind {
	case "job", "queue", "class":
		return nil
	default:
		return tempo.Validationf("unknown topic entity %q", kind)
	}
}

// topicRegistry maps topics to subscriber sets. Safe for concurrent use.
type topicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriber id → subscriber
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *topicRegistry) subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

func (tr *topicRegistry) unsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// broadcast delivers evt once to every subscriber on any of topics and
// returns the number of deliveries and drops.
func (tr *topicRegistry) broadcast(topics []string, evt *Event) (delivered, dropped int) {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

func (tr *topicRegistry) count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}
