package placement

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "vmplacer"
	metricsSubsystem = "placement"

	reasonLabel  = "reason"
	serviceLabel = "service"
)

// Group failure reasons.
const (
	ReasonNoResourcePools = "no_resource_pools"
	ReasonNoMatchingHosts = "no_matching_hosts"
	ReasonNoSuitableHost  = "no_suitable_host"
	ReasonError           = "error"
)

// Metrics collects placement metrics. A nil *Metrics records nothing.
type Metrics struct {
	runs          prometheus.Counter
	groupFailures *prometheus.CounterVec
	rollbacks     *prometheus.CounterVec
	vmsPlaced     prometheus.Counter
	duration      prometheus.Histogram
}

// NewMetrics creates the placement collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "runs_total",
			Help:      "Total number of placement runs",
		}),
		groupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "group_failures_total",
			Help:      "Total number of virtual groups that could not be placed",
		}, []string{reasonLabel}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rollbacks_total",
			Help:      "Total number of host commits rolled back, by the service whose commit failed",
		}, []string{serviceLabel}),
		vmsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "vms_placed_total",
			Help:      "Total number of VMs assigned to a host",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "duration_seconds",
			Help:      "Duration of placement runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.runs, m.groupFailures, m.rollbacks, m.vmsPlaced, m.duration)
	}
	return m
}

func (m *Metrics) observeRun(start time.Time) {
	if m == nil {
		return
	}
	m.runs.Inc()
	m.duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) groupFailed(reason string) {
	if m == nil {
		return
	}
	m.groupFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) rolledBack(service string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(service).Inc()
}

func (m *Metrics) placed(n int) {
	if m == nil {
		return
	}
	m.vmsPlaced.Add(float64(n))
}
