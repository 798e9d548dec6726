package simulate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/schaermu/gitcom/internal/paradox"
	"github.com/schaermu/gitcom/internal/structure"
)

var meter = otel.Meter("gitcom.simulate")

var (
	daysTotal       metric.Int64Counter
	actionsTotal    metric.Int64Counter
	rejectionsTotal metric.Int64Counter
	commitsTotal    metric.Int64Counter
	fallbacksTotal  metric.Int64Counter
	dayDuration     metric.Float64Histogram

	metricsOnce    sync.Once
	metricsErr     error
	metricsEnabled atomic.Bool
)

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled turns metric recording on or off.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		daysTotal, err = meter.Int64Counter(
			"gitcom_days_total",
			metric.WithDescription("Simulated days by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		actionsTotal, err = meter.Int64Counter(
			"gitcom_actions_total",
			metric.WithDescription("Committed actions by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rejectionsTotal, err = meter.Int64Counter(
			"gitcom_rejections_total",
			metric.WithDescription("Actions dropped during batch validation by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitsTotal, err = meter.Int64Counter(
			"gitcom_commits_total",
			metric.WithDescription("Commits created"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fallbacksTotal, err = meter.Int64Counter(
			"gitcom_fallbacks_total",
			metric.WithDescription("Days rescued by the fallback add"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		dayDuration, err = meter.Float64Histogram(
			"gitcom_day_duration_seconds",
			metric.WithDescription("Wall-clock time spent simulating one day"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func metricsReady() bool {
	return metricsEnabled.Load() && initMetrics() == nil
}

func recordDay(ctx context.Context, outcome string, elapsed time.Duration) {
	if !metricsReady() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	daysTotal.Add(ctx, 1, attrs)
	dayDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func recordBatch(ctx context.Context, b paradox.Batch) {
	if !metricsReady() {
		return
	}
	for _, r := range b.Rejections {
		rejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", r.Reason())))
	}
	if b.Fallback {
		fallbacksTotal.Add(ctx, 1)
	}
}

func recordCommit(ctx context.Context, batch structure.Sequence) {
	if !metricsReady() {
		return
	}
	commitsTotal.Add(ctx, 1)
	for _, a := range batch {
		actionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(a.Kind))))
	}
}
