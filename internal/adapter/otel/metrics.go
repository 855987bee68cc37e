package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "arbor"

// Metrics holds the engine's metric instruments.
type Metrics struct {
	MovesApplied  metric.Int64Counter
	MovesNoop     metric.Int64Counter
	MovesRejected metric.Int64Counter
	RowsShifted   metric.Int64Histogram
	MoveDuration  metric.Float64Histogram
	NodesCreated  metric.Int64Counter
	NodesDeleted  metric.Int64Counter
	SnapshotHits  metric.Int64Counter
	SnapshotMiss  metric.Int64Counter
	EventsDropped metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.MovesApplied, "arbor.moves.applied", "Subtree moves that rewrote bounds"},
		{&m.MovesNoop, "arbor.moves.noop", "Moves to the position the node already held"},
		{&m.MovesRejected, "arbor.moves.rejected", "Moves rejected as impossible or invalid"},
		{&m.NodesCreated, "arbor.nodes.created", "Leaves inserted"},
		{&m.NodesDeleted, "arbor.nodes.deleted", "Nodes removed by subtree deletion"},
		{&m.SnapshotHits, "arbor.snapshot.cache.hits", "Forest snapshots served from cache"},
		{&m.SnapshotMiss, "arbor.snapshot.cache.misses", "Forest snapshots read from the store"},
		{&m.EventsDropped, "arbor.events.dropped", "Tree events that could not be published"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.RowsShifted, err = meter.Int64Histogram("arbor.move.rows_shifted",
		metric.WithDescription("Rows touched by a single move UPDATE"))
	if err != nil {
		return nil, err
	}

	m.MoveDuration, err = meter.Float64Histogram("arbor.move.duration_seconds",
		metric.WithDescription("Move latency including lock wait"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordMove records a finished move attempt. outcome is applied, noop or
// rejected.
func (m *Metrics) RecordMove(ctx context.Context, backend, outcome string, rows int64, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	switch outcome {
	case "applied":
		m.MovesApplied.Add(ctx, 1, attrs)
		m.RowsShifted.Record(ctx, rows, attrs)
	case "noop":
		m.MovesNoop.Add(ctx, 1, attrs)
	default:
		m.MovesRejected.Add(ctx, 1, attrs)
	}
	m.MoveDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("backend", backend), attribute.String("outcome", outcome)))
}
