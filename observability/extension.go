package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/tempo/ext"
	"github.com/xraph/tempo/id"
	"github.com/xraph/tempo/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.JobEnqueued       = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobRetrying       = (*MetricsExtension)(nil)
	_ ext.JobDead           = (*MetricsExtension)(nil)
	_ ext.CronFired         = (*MetricsExtension)(nil)
	_ ext.LeadershipChanged = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/tempo/observability"

// MetricsExtension records lifecycle counters through an OTel meter.
// Job counters carry job_kind and queue attributes.
type MetricsExtension struct {
	JobEnqueued       metric.Int64Counter
	JobCompleted      metric.Int64Counter
	JobFailed         metric.Int64Counter
	JobRetried        metric.Int64Counter
	JobDead           metric.Int64Counter
	CronFired         metric.Int64Counter
	LeadershipChanges metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The API hands back a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:       counter("tempo.job.enqueued", "Jobs pushed to a queue"),
		JobCompleted:      counter("tempo.job.completed", "Jobs whose handler succeeded"),
		JobFailed:         counter("tempo.job.failed", "Failed job executions"),
		JobRetried:        counter("tempo.job.retried", "Failed jobs scheduled for retry"),
		JobDead:           counter("tempo.job.dead", "Jobs moved to the dead set"),
		CronFired:         counter("tempo.cron.fired", "Schedule entries fired"),
		LeadershipChanges: counter("tempo.leadership.changes", "Schedule leadership transitions"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_kind", j.Kind),
		attribute.String("queue", j.Queue),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDead implements ext.JobDead.
func (m *MetricsExtension) OnJobDead(ctx context.Context, j *job.Job, _ error) error {
	m.JobDead.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Cluster hooks ───────────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("schedule", entryName)))
	return nil
}

// OnLeadershipChanged implements ext.LeadershipChanged.
func (m *MetricsExtension) OnLeadershipChanged(ctx context.Context, _ string, leader bool) error {
	m.LeadershipChanges.Add(ctx, 1, metric.WithAttributes(attribute.Bool("leader", leader)))
	return nil
}
