// Package metrics exports resolver activity to Prometheus. A Metrics is
// an events.Subscriber: attach it to the resolver's bus with
// SubscribeGlobal.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/crystal-mush/ospec/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metric descriptors for the resolver.
type Metrics struct {
	reg       *prometheus.Registry
	startTime time.Time

	resolutionsTotal *prometheus.CounterVec
	resultSize       prometheus.Histogram
	resolveSeconds   prometheus.Histogram
	opFailuresTotal  *prometheus.CounterVec
	bindsTotal       *prometheus.CounterVec
	blueprintReloads prometheus.Counter
	objectsTotal     prometheus.GaugeFunc
	uptimeSeconds    prometheus.Gauge
	memoryHeapBytes  prometheus.Gauge
	goroutines       prometheus.Gauge
}

// New creates the metrics on a private registry. objects reports the live
// object count when scraped; it may be nil.
func New(objects func() int) *Metrics {
	if objects == nil {
		objects = func() int { return 0 }
	}
	m := &Metrics{
		reg:       prometheus.NewRegistry(),
		startTime: time.Now(),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ospec_resolutions_total",
			Help: "Top-level ospec evaluations by outcome.",
		}, []string{"outcome"}),
		resultSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ospec_result_objects",
			Help:    "Number of objects returned per successful evaluation.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 100},
		}),
		resolveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ospec_resolve_seconds",
			Help:    "Wall time of top-level evaluations.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		opFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ospec_operator_failures_total",
			Help: "Operators that failed locally and yielded an empty set.",
		}, []string{"op"}),
		bindsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ospec_variable_binds_total",
			Help: "Variables set through the command layer.",
		}, []string{"name"}),
		blueprintReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ospec_blueprint_reloads_total",
			Help: "Library blueprints dropped from cache after a change on disk.",
		}),
		objectsTotal: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ospec_objects_total",
			Help: "Live objects in the world.",
		}, func() float64 { return float64(objects()) }),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ospec_uptime_seconds",
			Help: "Process uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ospec_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ospec_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.reg.MustRegister(
		m.resolutionsTotal,
		m.resultSize,
		m.resolveSeconds,
		m.opFailuresTotal,
		m.bindsTotal,
		m.blueprintReloads,
		m.objectsTotal,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// Receive implements events.Subscriber.
func (m *Metrics) Receive(ev events.Event) {
	switch ev.Type {
	case events.EvResolve:
		outcome := "found"
		if len(ev.Refs) == 0 {
			outcome = "empty"
		}
		m.resolutionsTotal.WithLabelValues(outcome).Inc()
		m.resultSize.Observe(float64(len(ev.Refs)))
		m.resolveSeconds.Observe(ev.Duration.Seconds())
	case events.EvSyntaxError, events.EvResolveError:
		m.resolutionsTotal.WithLabelValues("error").Inc()
		m.resolveSeconds.Observe(ev.Duration.Seconds())
	case events.EvOpFailure:
		m.opFailuresTotal.WithLabelValues(ev.Op).Inc()
	case events.EvBind:
		m.bindsTotal.WithLabelValues(ev.Op).Inc()
	case events.EvBlueprint:
		m.blueprintReloads.Inc()
	}
}

// Closed implements events.Subscriber; metrics never unsubscribe.
func (m *Metrics) Closed() bool { return false }

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Update refreshes the process gauges.
func (m *Metrics) Update() {
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
