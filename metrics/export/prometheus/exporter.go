package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() authflow.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   authflow.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   authflow.MetricID
	desc *prometheus.Desc
}

// Collector implements prometheus.Collector.
type Collector struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	bounds       []float64
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(engine *authflow.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		auditDropped: prometheus.NewDesc(internaldefs.AuditDropped.Name, internaldefs.AuditDropped.Help, nil, nil),
		bounds:       internaldefs.UpperBounds(),
	}
	for _, d := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: d.ID, desc: prometheus.NewDesc(d.Name, d.Help, nil, nil)})
	}
	for _, d := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{id: d.ID, desc: prometheus.NewDesc(d.Name, d.Help, nil, nil)})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, d := range c.histograms {
		ch <- d.desc
	}
	ch <- c.auditDropped
}

// Collect emits nothing while engine metrics are disabled, apart from the
// audit drop counter.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snap := c.source.MetricsSnapshot()
	for _, d := range c.counters {
		v, ok := snap.Counters[d.id]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(v))
	}
	for _, d := range c.histograms {
		raw, ok := snap.Histograms[d.id]
		if !ok {
			continue
		}
		cum := internaldefs.CumulativeBuckets(raw)
		buckets := make(map[float64]uint64, len(c.bounds))
		for i, b := range c.bounds {
			buckets[b] = cum[i]
		}
		// The engine keeps bucket counts only, so the sum is unknown.
		ch <- prometheus.MustNewConstHistogram(d.desc, cum[len(cum)-1], 0, buckets)
	}
	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler serves the collector from a private registry.
func (c *Collector) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
