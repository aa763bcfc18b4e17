package observability

import (
	"context"
	"testing"
)

func TestInitDisabledLeavesNoopTracer(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if Enabled() {
		t.Fatalf("expected tracing disabled")
	}
	if Tracer() == nil {
		t.Fatalf("expected a non-nil noop tracer")
	}
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitUnknownExporterFails(t *testing.T) {
	err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon", ServiceName: "fleetd-test"})
	if err == nil {
		t.Fatalf("expected an error for an unknown exporter")
	}
}
