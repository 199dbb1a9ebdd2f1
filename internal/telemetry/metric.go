package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	transitionsOnce    sync.Once
	transitionsCounter metric.Int64Counter
)

// RecordTransition counts a session state transition on the global meter.
// The counter is resolved lazily so a meter provider installed by Init is used.
func RecordTransition(ctx context.Context, from, to string) {
	transitionsOnce.Do(func() {
		c, err := otel.Meter(InstrumentationName).Int64Counter(
			"bloodconnect.session.transitions",
			metric.WithDescription("Session state transitions"),
		)
		if err != nil {
			return
		}
		transitionsCounter = c
	})
	if transitionsCounter == nil {
		return
	}
	transitionsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
