package main

import (
	"testing"

	"github.com/vmfleet/fleetd/internal/config"
)

func TestNewDriverSelectsCloudHypervisorFromEnvLiteral(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "cloud_hypervisor"
	cfg.CloudHypervisor.RootfsDir = t.TempDir()
	cfg.CloudHypervisor.LogDir = t.TempDir()

	driver, err := newDriver(cfg)
	if err != nil {
		t.Fatalf("newDriver: %v", err)
	}
	if driver.Name() != "cloudhypervisor" {
		t.Fatalf("expected the cloud-hypervisor driver, got %q", driver.Name())
	}
}

func TestNewDriverSelectsFirecrackerByDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Firecracker.RootfsDir = t.TempDir()
	cfg.Firecracker.SocketDir = t.TempDir()
	cfg.Firecracker.VsockDir = t.TempDir()
	cfg.Firecracker.LogDir = t.TempDir()

	driver, err := newDriver(cfg)
	if err != nil {
		t.Fatalf("newDriver: %v", err)
	}
	if driver.Name() != "firecracker" {
		t.Fatalf("expected the firecracker driver, got %q", driver.Name())
	}
}

func TestNewDriverRejectsUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "cloudhypervisor" // the old, no-underscore literal is no longer valid
	if _, err := newDriver(cfg); err == nil {
		t.Fatalf("expected an error for an unrecognized backend literal")
	}
}
