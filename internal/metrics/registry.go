// Package metrics exposes poll outcomes, outlet commands and the latest device
// readings as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesprial/netio-mcp/internal/netio"
)

const namespace = "netio"

// Registry holds all Prometheus metrics of the server on its own
// prometheus.Registry.
type Registry struct {
	reg *prometheus.Registry

	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	commands     *prometheus.CounterVec
	up           prometheus.Gauge

	voltage      prometheus.Gauge
	frequency    prometheus.Gauge
	totalCurrent prometheus.Gauge
	totalLoad    prometheus.Gauge
	totalEnergy  prometheus.Gauge

	outletOn      *prometheus.GaugeVec
	outletCurrent *prometheus.GaugeVec
	outletLoad    *prometheus.GaugeVec
	outletEnergy  *prometheus.GaugeVec
	outletPF      *prometheus.GaugeVec
}

// NewRegistry creates a registry with every metric registered, plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	outletLabels := []string{"outlet", "name"}

	return &Registry{
		reg: reg,
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of device reads by result",
		}, []string{"result"}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of device reads",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of outlet commands by action and result",
		}, []string{"action", "result"}),
		up: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the last device read succeeded",
		}),
		voltage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voltage_volts",
			Help:      "Mains voltage",
		}),
		frequency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frequency_hertz",
			Help:      "Mains frequency",
		}),
		totalCurrent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_current_amperes",
			Help:      "Current drawn across all outlets",
		}),
		totalLoad: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_load_watts",
			Help:      "Power drawn across all outlets",
		}),
		totalEnergy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_energy_watthours",
			Help:      "Energy counter across all outlets since EnergyStart",
		}),
		outletOn: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outlet_on",
			Help:      "1 if the outlet is powered",
		}, outletLabels),
		outletCurrent: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outlet_current_amperes",
			Help:      "Current drawn by the outlet",
		}, outletLabels),
		outletLoad: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outlet_load_watts",
			Help:      "Power drawn by the outlet",
		}, outletLabels),
		outletEnergy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outlet_energy_watthours",
			Help:      "Energy counter of the outlet",
		}, outletLabels),
		outletPF: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outlet_power_factor",
			Help:      "Power factor of the outlet",
		}, outletLabels),
	}
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObservePoll records the outcome of one device read.
func (r *Registry) ObservePoll(d time.Duration, err error) {
	r.pollDuration.Observe(d.Seconds())
	if err != nil {
		r.polls.WithLabelValues("failure").Inc()
		r.up.Set(0)
		return
	}
	r.polls.WithLabelValues("success").Inc()
	r.up.Set(1)
}

// ObserveCommand records the outcome of one outlet command.
func (r *Registry) ObserveCommand(action netio.OutletAction, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.commands.WithLabelValues(action.String(), result).Inc()
}

// ObserveSnapshot refreshes the reading gauges from a snapshot. Outlet series
// are rebuilt so renamed outlets do not leave stale series behind.
func (r *Registry) ObserveSnapshot(s *netio.Snapshot) {
	if s == nil {
		return
	}
	g := s.GlobalMeasure
	r.voltage.Set(g.Voltage)
	r.frequency.Set(g.Frequency)
	r.totalCurrent.Set(float64(g.TotalCurrent) / 1000)
	r.totalLoad.Set(float64(g.TotalLoad))
	r.totalEnergy.Set(float64(g.TotalEnergy))

	for _, v := range []*prometheus.GaugeVec{r.outletOn, r.outletCurrent, r.outletLoad, r.outletEnergy, r.outletPF} {
		v.Reset()
	}
	for _, o := range s.Outputs {
		labels := []string{strconv.Itoa(int(o.ID)), o.Name}
		on := 0.0
		if o.IsOn() {
			on = 1
		}
		r.outletOn.WithLabelValues(labels...).Set(on)
		r.outletCurrent.WithLabelValues(labels...).Set(float64(o.Current) / 1000)
		r.outletLoad.WithLabelValues(labels...).Set(float64(o.Load))
		r.outletEnergy.WithLabelValues(labels...).Set(float64(o.Energy))
		r.outletPF.WithLabelValues(labels...).Set(o.PowerFactor)
	}
}
