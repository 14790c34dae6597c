package services

import (
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
)

var spanExporter = tracetest.NewInMemoryExporter()

func TestMain(m *testing.M) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(spanExporter)))
	goleak.VerifyTestMain(m)
}

// spanNames returns the names of the spans exported so far.
func spanNames() []string {
	var names []string
	for _, s := range spanExporter.GetSpans() {
		names = append(names, s.Name)
	}
	return names
}
