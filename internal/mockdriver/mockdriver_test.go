package mockdriver

import (
	"context"
	"testing"

	"github.com/vmfleet/fleetd/internal/domain"
)

func TestBootWarmUpStopRoundTrip(t *testing.T) {
	d := New()
	ctx := context.Background()

	ip, port, err := d.Boot(ctx, "vm-1", "tenant-a", domain.Spec{})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if ip == "" || port == 0 {
		t.Fatalf("expected non-zero ip/port, got %q/%d", ip, port)
	}
	if d.BootCount() != 1 {
		t.Fatalf("expected 1 boot, got %d", d.BootCount())
	}

	if err := d.WarmUp(ctx, "vm-1", domain.Spec{}); err != nil {
		t.Fatalf("warm_up: %v", err)
	}
	if d.WarmCount() != 1 {
		t.Fatalf("expected 1 warm_up, got %d", d.WarmCount())
	}

	if err := d.Stop("vm-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d.StopCount() != 1 {
		t.Fatalf("expected 1 stop, got %d", d.StopCount())
	}

	if err := d.WarmUp(ctx, "vm-1", domain.Spec{}); err == nil {
		t.Fatalf("expected warm_up on stopped vm to fail")
	}
}

func TestBootFailureInjection(t *testing.T) {
	d := New()
	d.FailBoot = "bad"

	if _, _, err := d.Boot(context.Background(), "vm-bad-1", "tenant-a", domain.Spec{}); err == nil {
		t.Fatalf("expected injected boot failure")
	}
	if _, _, err := d.Boot(context.Background(), "vm-good-1", "tenant-a", domain.Spec{}); err != nil {
		t.Fatalf("unexpected boot failure: %v", err)
	}
}
