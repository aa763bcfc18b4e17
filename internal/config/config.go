// Package config loads fleetd's runtime configuration: which backend to
// drive, where its assets live, and the ambient HTTP/tracing/logging/
// metrics/cache knobs. It holds no warm-pool settings; those come from
// each Spec. DefaultConfig sets sane
// defaults for every FC_*/FLEETD_* knob; LoadFromEnv layers environment
// overrides on top in a second pass.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/vmfleet/fleetd/internal/cloudhypervisor"
	"github.com/vmfleet/fleetd/internal/firecracker"
)

type TracingConfig struct {
	Enabled     bool
	Exporter    string
	Endpoint    string
	ServiceName string
	SampleRate  float64
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// CacheConfig controls the optional Redis-backed stats cache httpapi uses
// in front of the pool manager's GET /stats snapshot. Disabled by default:
// a single-instance daemon has no need for a shared cache.
type CacheConfig struct {
	Enabled bool
	Addr    string
	DB      int
}

type DaemonConfig struct {
	HTTPAddr          string
	LogLevel          string
	DBPath            string
	DesiredStateFile  string
	ReconcileInterval time.Duration
}

// Config is the full set of knobs fleetd reads at startup.
type Config struct {
	Backend         string // "firecracker", "cloud_hypervisor", or "mock"
	Firecracker     *firecracker.Config
	CloudHypervisor *cloudhypervisor.Config
	Daemon          DaemonConfig
	Tracing         TracingConfig
	Metrics         MetricsConfig
	Cache           CacheConfig
}

func DefaultConfig() *Config {
	return &Config{
		Backend:         "firecracker",
		Firecracker:     firecracker.DefaultConfig(),
		CloudHypervisor: cloudhypervisor.DefaultConfig(),
		Daemon: DaemonConfig{
			HTTPAddr:          ":8090",
			LogLevel:          "info",
			DBPath:            "/var/lib/fleetd/desired.db",
			DesiredStateFile:  "/etc/fleetd/desired.yaml",
			ReconcileInterval: time.Second,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "fleetd",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "fleetd",
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
	}
}

// LoadFromEnv applies FC_*/FLEETD_* overrides on top of cfg in place.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FC_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("FC_BIN"); v != "" {
		cfg.Firecracker.FirecrackerBin = v
	}
	if v := os.Getenv("FC_KERNEL"); v != "" {
		cfg.Firecracker.KernelPath = v
	}
	if v := os.Getenv("FC_ROOTFS"); v != "" {
		cfg.Firecracker.RootfsDir = v
	}
	if v := os.Getenv("FC_BRIDGE"); v != "" {
		cfg.Firecracker.BridgeName = v
	}
	if v := os.Getenv("FC_SUBNET_PREFIX"); v != "" {
		cfg.Firecracker.Subnet = v
	}
	if v := os.Getenv("FC_GUEST_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Firecracker.GuestPort = n
		}
	}
	if v := os.Getenv("FC_CH_BIN"); v != "" {
		cfg.CloudHypervisor.Binary = v
	}

	if v := os.Getenv("FLEETD_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("FLEETD_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("FLEETD_DB_PATH"); v != "" {
		cfg.Daemon.DBPath = v
	}
	if v := os.Getenv("FLEETD_DESIRED_FILE"); v != "" {
		cfg.Daemon.DesiredStateFile = v
	}
	if v := os.Getenv("FLEETD_RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Daemon.ReconcileInterval = d
		}
	}

	if v := os.Getenv("FLEETD_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLEETD_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("FLEETD_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("FLEETD_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("FLEETD_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLEETD_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}

	if v := os.Getenv("FLEETD_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLEETD_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("FLEETD_CACHE_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = n
		}
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
