package clustering

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/thebtf/newsify/internal/clustering"

var tracer = otel.Tracer(instrumentationName)

// runMetrics are the run counters exported through the global meter provider.
// Without a configured provider they are no-ops.
type runMetrics struct {
	runs        metric.Int64Counter
	documents   metric.Int64Counter
	clusters    metric.Int64Counter
	skipped     metric.Int64Counter
	runDuration metric.Float64Histogram
}

func newRunMetrics() *runMetrics {
	meter := otel.Meter(instrumentationName)
	m := &runMetrics{}
	// Names are constant and valid, so constructor errors are ignored.
	m.runs, _ = meter.Int64Counter("newsify.clustering.runs",
		metric.WithDescription("Clustering runs by outcome"))
	m.documents, _ = meter.Int64Counter("newsify.clustering.documents",
		metric.WithDescription("Documents processed by outcome"))
	m.clusters, _ = meter.Int64Counter("newsify.clustering.clusters",
		metric.WithDescription("Clusters written by operation"))
	m.skipped, _ = meter.Int64Counter("newsify.clustering.skipped",
		metric.WithDescription("Documents left unassigned by reason"))
	m.runDuration, _ = meter.Float64Histogram("newsify.clustering.run.duration",
		metric.WithDescription("Run duration"),
		metric.WithUnit("s"))
	return m
}

func (m *runMetrics) record(ctx context.Context, report *RunReport, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.runDuration.Record(ctx, report.Elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	if err != nil {
		return
	}

	m.documents.Add(ctx, int64(report.Matched), metric.WithAttributes(attribute.String("outcome", "matched")))
	m.documents.Add(ctx, int64(report.Assigned), metric.WithAttributes(attribute.String("outcome", "assigned")))
	m.documents.Add(ctx, int64(report.Embedded), metric.WithAttributes(attribute.String("outcome", "embedded")))
	m.clusters.Add(ctx, int64(len(report.ClustersCreated)), metric.WithAttributes(attribute.String("op", "create")))
	m.clusters.Add(ctx, int64(len(report.ClustersUpdated)), metric.WithAttributes(attribute.String("op", "update")))
	for _, s := range report.Skipped {
		m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(s.Reason))))
	}
}
