// Package metrics exposes the /metrics surface: VM creation/boot-failure
// counters and pool/warm gauges, kept on a private registry so the daemon
// never pulls in unrelated default collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var bootDurationBuckets = []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 60000}

// Metrics wraps the fleetd collector set on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	vmsBooted      *prometheus.CounterVec
	vmsWarmed      *prometheus.CounterVec
	vmsStopped     *prometheus.CounterVec
	bootFailures   *prometheus.CounterVec
	warmUpFailures *prometheus.CounterVec

	bootDuration *prometheus.HistogramVec

	poolSize      *prometheus.GaugeVec
	warmPoolSize  *prometheus.GaugeVec
	reconcileTick prometheus.Counter
}

var m *Metrics

// Init builds the fleetd collector set under namespace (default "fleetd")
// and registers Go/process collectors alongside it.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fleetd"
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	mm := &Metrics{
		registry: registry,

		vmsBooted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_booted_total", Help: "Total VMs successfully booted.",
		}, []string{"driver"}),

		vmsWarmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_warmed_total", Help: "Total VMs successfully warmed up.",
		}, []string{"driver"}),

		vmsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "vms_stopped_total", Help: "Total VMs stopped.",
		}, []string{"driver"}),

		bootFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "boot_failures_total", Help: "Total boot_failed errors by subkind.",
		}, []string{"subkind"}),

		warmUpFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "warm_up_failures_total", Help: "Total warm_up_failed errors by subkind.",
		}, []string{"subkind"}),

		bootDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "vm_boot_duration_milliseconds",
			Help: "Duration of VM boot in milliseconds.", Buckets: bootDurationBuckets,
		}, []string{"driver"}),

		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_size", Help: "Number of attached VMs by fingerprint.",
		}, []string{"fingerprint"}),

		warmPoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "warm_pool_size", Help: "Number of warm VMs by fingerprint.",
		}, []string{"fingerprint"}),

		reconcileTick: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_ticks_total", Help: "Total reconciler ticks executed.",
		}),
	}

	registry.MustRegister(
		mm.vmsBooted, mm.vmsWarmed, mm.vmsStopped,
		mm.bootFailures, mm.warmUpFailures, mm.bootDuration,
		mm.poolSize, mm.warmPoolSize, mm.reconcileTick,
	)

	m = mm
	return mm
}

// Handler returns the /metrics HTTP handler. Init must be called first.
func Handler() http.Handler {
	if m == nil {
		Init("")
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func RecordBoot(driver string, durationMs float64) {
	if m == nil {
		return
	}
	m.vmsBooted.WithLabelValues(driver).Inc()
	m.bootDuration.WithLabelValues(driver).Observe(durationMs)
}

func RecordWarmUp(driver string) {
	if m != nil {
		m.vmsWarmed.WithLabelValues(driver).Inc()
	}
}

func RecordStop(driver string) {
	if m != nil {
		m.vmsStopped.WithLabelValues(driver).Inc()
	}
}

func RecordBootFailure(subkind string) {
	if m != nil {
		m.bootFailures.WithLabelValues(subkind).Inc()
	}
}

func RecordWarmUpFailure(subkind string) {
	if m != nil {
		m.warmUpFailures.WithLabelValues(subkind).Inc()
	}
}

func SetPoolSize(fingerprint string, size int) {
	if m != nil {
		m.poolSize.WithLabelValues(fingerprint).Set(float64(size))
	}
}

func SetWarmPoolSize(fingerprint string, size int) {
	if m != nil {
		m.warmPoolSize.WithLabelValues(fingerprint).Set(float64(size))
	}
}

func RecordReconcileTick() {
	if m != nil {
		m.reconcileTick.Inc()
	}
}
