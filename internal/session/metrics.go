package session

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-bridge/internal/session"

type instruments struct {
	chunks   metric.Int64Counter
	events   metric.Int64Counter
	sessions metric.Int64Counter
}

var (
	instrumentsOnce sync.Once
	inst            instruments
)

// meters resolves the instruments against the global provider on first use, after the
// runtime has installed its meter provider.
func meters() instruments {
	instrumentsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		inst.chunks, _ = meter.Int64Counter("bridge.chunks.sent", metric.WithDescription("Chunks appended to realtime sessions"))
		inst.events, _ = meter.Int64Counter("bridge.events.received", metric.WithDescription("Server events received"))
		inst.sessions, _ = meter.Int64Counter("bridge.sessions.completed", metric.WithDescription("Sessions that left the draining state"))
	})
	return inst
}

func recordChunk(direction Direction) {
	if c := meters().chunks; c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", string(direction))))
	}
}

func recordEvent(typ string) {
	if c := meters().events; c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", typ)))
	}
}

func recordOutcome(direction Direction, state State) {
	if c := meters().sessions; c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("direction", string(direction)),
			attribute.String("outcome", state.String()),
		))
	}
}
