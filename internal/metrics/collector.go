package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pvgstream"

// Collector exposes a Metrics instance to a Prometheus registry.
// Values are read at scrape time so the hot path stays on atomics.
type Collector struct {
	m           *Metrics
	descs       map[string]*prometheus.Desc
	uptimeDesc  *prometheus.Desc
	latencyDesc *prometheus.Desc
	extraGauges []GaugeFunc
	extraDescs  []*prometheus.Desc
}

// GaugeFunc is an additional gauge sampled at scrape time, such as aggregate task counts.
type GaugeFunc struct {
	Name   string
	Help   string
	Labels prometheus.Labels
	Value  func() float64
}

// NewCollector creates a Collector for m. Extra gauges are registered alongside the counters.
func NewCollector(m *Metrics, extra ...GaugeFunc) *Collector {
	c := &Collector{
		m:     m,
		descs: make(map[string]*prometheus.Desc),
		uptimeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "uptime_seconds"),
			"Seconds since the metrics instance was created.", nil, nil),
		latencyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "request_latency_avg_seconds"),
			"Average round-trip latency of correlated requests.", nil, nil),
		extraGauges: extra,
	}
	for _, nc := range m.counters() {
		c.descs[nc.name] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", nc.name), nc.help, nil, nil)
	}
	for _, g := range extra {
		c.extraDescs = append(c.extraDescs, prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", g.Name), g.Help, nil, g.Labels))
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
	for _, d := range c.extraDescs {
		ch <- d
	}
	ch <- c.uptimeDesc
	ch <- c.latencyDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, nc := range c.m.counters() {
		ch <- prometheus.MustNewConstMetric(c.descs[nc.name], prometheus.CounterValue, float64(nc.v.Load()))
	}
	for i, g := range c.extraGauges {
		ch <- prometheus.MustNewConstMetric(c.extraDescs[i], prometheus.GaugeValue, g.Value())
	}
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, c.m.Uptime().Seconds())
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, c.m.AvgLatency().Seconds())
}
