package model

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("strata.model")

var (
	commitsTotal    metric.Int64Counter
	commitNodes     metric.Int64Histogram
	snapshotRetries metric.Int64Counter
	deliveries      metric.Int64Counter
	drops           metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		commitsTotal, err = meter.Int64Counter(
			"model_commits_total",
			metric.WithDescription("Commit attempts by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitNodes, err = meter.Int64Histogram(
			"model_commit_nodes",
			metric.WithDescription("Nodes written per successful commit"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotRetries, err = meter.Int64Counter(
			"model_snapshot_retries_total",
			metric.WithDescription("Snapshot collections repeated because the tree changed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		deliveries, err = meter.Int64Counter(
			"model_deliveries_total",
			metric.WithDescription("Change notifications delivered to listeners"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		drops, err = meter.Int64Counter(
			"model_dropped_notifications_total",
			metric.WithDescription("Change notifications not delivered"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCommit(ok bool, nodes int) {
	if err := initMetrics(); err != nil {
		return
	}
	outcome := "committed"
	if !ok {
		outcome = "conflict"
	}
	ctx := context.Background()
	commitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if ok && nodes > 0 {
		commitNodes.Record(ctx, int64(nodes))
	}
}

func recordSnapshotRetry() {
	if err := initMetrics(); err != nil {
		return
	}
	snapshotRetries.Add(context.Background(), 1)
}

func recordDelivery() {
	if err := initMetrics(); err != nil {
		return
	}
	deliveries.Add(context.Background(), 1)
}

func recordDrop(reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	drops.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
