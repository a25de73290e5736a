package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "nerfbot"
	subsystem = "gun"
)

// DevicePhases lists every label value of the device phase gauge.
var DevicePhases = []string{"idle", "busy", "ko", "error"}

// Metrics exposes Prometheus collectors for fire arbitration.
type Metrics struct {
	intents          *prometheus.CounterVec
	shotsFired       prometheus.Counter
	devicePhase      *prometheus.GaugeVec
	recenters        *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	spanDuration     *prometheus.HistogramVec
}

// MustNewMetrics registers the collectors on reg, reusing collectors that are
// already registered under the same name. Other registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "intents_total",
			Help:      "Fire intents by terminal status.",
		}, []string{"status"}),
		shotsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "shots_fired_total",
			Help:      "Shots the device reported as fired.",
		}),
		devicePhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "device_phase",
			Help:      "1 for the phase currently recorded for the device, 0 otherwise.",
		}, []string{"phase"}),
		recenters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recenters_total",
			Help:      "Watchdog recenter attempts by outcome.",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from fire dispatch until the device settled.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}),
		spanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "span_duration_seconds",
			Help:      "Duration of instrumented operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "operation", "outcome"}),
	}

	m.intents = register(reg, m.intents)
	m.shotsFired = register(reg, m.shotsFired)
	m.devicePhase = register(reg, m.devicePhase)
	m.recenters = register(reg, m.recenters)
	m.dispatchDuration = register(reg, m.dispatchDuration)
	m.spanDuration = register(reg, m.spanDuration)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// IntentObserved counts one fire intent reaching status.
func (m *Metrics) IntentObserved(status string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(status).Inc()
}

func (m *Metrics) ShotsFired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.shotsFired.Add(float64(n))
}

// DevicePhase sets the gauge for phase to 1 and every other phase to 0.
func (m *Metrics) DevicePhase(phase string) {
	if m == nil {
		return
	}
	for _, p := range DevicePhases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.devicePhase.WithLabelValues(p).Set(v)
	}
}

func (m *Metrics) Recentered(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.recenters.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DispatchObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(d.Seconds())
}

func (m *Metrics) observeSpan(component, operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.spanDuration.WithLabelValues(component, operation, outcome).Observe(d.Seconds())
}
