// Package cloudhypervisor implements backend.Driver on top of the
// cloud-hypervisor binary. Unlike the Firecracker driver, which configures
// the VM over a UDS REST API before starting it, cloud-hypervisor takes
// its entire configuration as CLI flags and starts immediately — so this
// driver's Boot is TAP setup, a single cloud-hypervisor launch, and a
// health poll.
package cloudhypervisor

import (
	"os"
	"time"
)

type Config struct {
	Binary         string
	KernelPath     string
	RootfsDir      string
	LogDir         string
	BridgeName     string
	Subnet         string
	BootTimeout    time.Duration
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	GuestPort      int
}

func DefaultConfig() *Config {
	return &Config{
		Binary:         "/usr/local/bin/cloud-hypervisor",
		KernelPath:     "/var/lib/fleetd/kernel/vmlinux-ch",
		RootfsDir:      "/var/lib/fleetd/rootfs",
		LogDir:         "/var/log/fleetd",
		BridgeName:     "fleet0",
		Subnet:         "172.30.0.0/24",
		BootTimeout:    60 * time.Second,
		HealthTimeout:  15 * time.Second,
		HealthInterval: 200 * time.Millisecond,
		GuestPort:      8080,
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
