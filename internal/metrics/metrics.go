package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

const namespace = "pvmocktat"

// Metrics exports tick results as Prometheus gauges. It is a simulator.TickSink.
type Metrics struct {
	registry *prometheus.Registry

	operating    *prometheus.GaugeVec
	load         *prometheus.GaugeVec
	duty         prometheus.Gauge
	irradiance   prometheus.Gauge
	temperature  prometheus.Gauge
	locked       prometheus.Gauge
	efficiency   prometheus.Gauge
	ticks        prometheus.Counter
	locks        *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(deviceID string) *Metrics {
	constLabels := prometheus.Labels{"device": deviceID}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operating: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "array_operating_point", ConstLabels: constLabels,
			Help: "Array operating point by quantity (voltage V, current A, power W).",
		}, []string{"quantity"}),
		load: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "converter_load", ConstLabels: constLabels,
			Help: "Converter load side by quantity (voltage V, current A, power W).",
		}, []string{"quantity"}),
		duty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "converter_duty_cycle", ConstLabels: constLabels,
			Help: "Converter duty cycle, 0 to 1.",
		}),
		irradiance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "irradiance_watts_per_square_meter", ConstLabels: constLabels,
			Help: "Irradiance applied on the last tick.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "temperature_celsius", ConstLabels: constLabels,
			Help: "Cell temperature applied on the last tick.",
		}),
		locked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "mppt_locked", ConstLabels: constLabels,
			Help: "1 when the MPPT controller holds the maximum power point.",
		}),
		efficiency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "converter_efficiency_ratio", ConstLabels: constLabels,
			Help: "Load power over array power on the last tick.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total", ConstLabels: constLabels,
			Help: "Simulation ticks processed.",
		}),
		locks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mppt_locks_total", ConstLabels: constLabels,
			Help: "MPPT lock acquisitions by algorithm.",
		}, []string{"algorithm"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", ConstLabels: constLabels,
			Help: "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", ConstLabels: constLabels,
			Help:    "HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operating,
		m.load,
		m.duty,
		m.irradiance,
		m.temperature,
		m.locked,
		m.efficiency,
		m.ticks,
		m.locks,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) OnTick(r simulator.TickResult) {
	m.operating.WithLabelValues("voltage").Set(r.OperatingVoltage)
	m.operating.WithLabelValues("current").Set(r.OperatingCurrent)
	m.operating.WithLabelValues("power").Set(r.OperatingPower)
	m.load.WithLabelValues("voltage").Set(r.LoadVoltage)
	m.load.WithLabelValues("current").Set(r.LoadCurrent)
	m.load.WithLabelValues("power").Set(r.LoadPower)
	m.duty.Set(r.DutyCycle)
	m.irradiance.Set(r.Environment.Irradiance)
	m.temperature.Set(r.Environment.Temperature)
	m.efficiency.Set(r.Efficiency())
	if r.Locked {
		m.locked.Set(1)
	} else {
		m.locked.Set(0)
	}
	m.ticks.Inc()
	if r.LockAcquired {
		m.locks.WithLabelValues(r.Algorithm.String()).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
