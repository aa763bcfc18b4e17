package firecracker

import (
	"os"
	"time"
)

// Config holds everything the Firecracker driver needs to boot and tear
// down microVMs: binary/kernel/rootfs locations, the host bridge, and
// per-VM timeouts.
type Config struct {
	FirecrackerBin string
	KernelPath     string
	RootfsDir      string
	SocketDir      string
	VsockDir       string
	LogDir         string
	BridgeName     string
	Subnet         string
	BootTimeout    time.Duration
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	GuestPort      int
	LogLevel       string
}

// DefaultConfig sets sane defaults for every FC_* environment variable;
// callers apply internal/config overrides on top of this.
func DefaultConfig() *Config {
	return &Config{
		FirecrackerBin: "/usr/local/bin/firecracker",
		KernelPath:     "/var/lib/fleetd/kernel/vmlinux",
		RootfsDir:      "/var/lib/fleetd/rootfs",
		SocketDir:      "/run/fleetd/sockets",
		VsockDir:       "/run/fleetd/vsock",
		LogDir:         "/var/log/fleetd",
		BridgeName:     "fleet0",
		Subnet:         "172.30.0.0/24",
		BootTimeout:    60 * time.Second,
		HealthTimeout:  15 * time.Second,
		HealthInterval: 200 * time.Millisecond,
		GuestPort:      8080,
		LogLevel:       "Warning",
	}
}

func ensureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
