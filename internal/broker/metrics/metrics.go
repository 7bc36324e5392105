// Package metrics exposes broker statistics as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/broker/internal/broker"
)

// StatsSource is anything that reports broker statistics.
type StatsSource interface {
	Stats() broker.Stats
}

// Collector reads broker stats at scrape time.
type Collector struct {
	source StatsSource

	broadcasts    *prometheus.Desc
	inFlight      *prometheus.Desc
	invocations   *prometheus.Desc
	cancellations *prometheus.Desc
	autoRemoved   *prometheus.Desc
	subscriptions *prometheus.Desc
	channels      *prometheus.Desc
	handlerTime   *prometheus.Desc
}

// NewCollector creates a collector for source. Metric names are prefixed
// with namespace.
func NewCollector(namespace string, source StatsSource) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "", n)
	}
	return &Collector{
		source: source,
		broadcasts: prometheus.NewDesc(name("broadcasts_total"),
			"Total number of broadcasts by state", []string{"state"}, nil),
		inFlight: prometheus.NewDesc(name("broadcasts_in_flight"),
			"Number of broadcasts currently dispatching", nil, nil),
		invocations: prometheus.NewDesc(name("handler_invocations_total"),
			"Total number of handler invocations by outcome", []string{"outcome"}, nil),
		cancellations: prometheus.NewDesc(name("broadcast_cancellations_total"),
			"Total number of broadcasts cancelled by a subscriber", nil, nil),
		autoRemoved: prometheus.NewDesc(name("subscriptions_exhausted_total"),
			"Total number of subscriptions removed after their last invocation", nil, nil),
		subscriptions: prometheus.NewDesc(name("subscriptions"),
			"Number of live subscriptions", nil, nil),
		channels: prometheus.NewDesc(name("channels"),
			"Number of channels with at least one subscription", nil, nil),
		handlerTime: prometheus.NewDesc(name("handler_seconds_total"),
			"Cumulative time spent in handlers", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.broadcasts
	ch <- c.inFlight
	ch <- c.invocations
	ch <- c.cancellations
	ch <- c.autoRemoved
	ch <- c.subscriptions
	ch <- c.channels
	ch <- c.handlerTime
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.broadcasts, prometheus.CounterValue, float64(s.Broadcasts), "accepted")
	ch <- prometheus.MustNewConstMetric(c.broadcasts, prometheus.CounterValue, float64(s.Completed), "completed")
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight))

	ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(s.Succeeded), "success")
	ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(s.Failed), "error")
	ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(s.Panicked), "panic")
	ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(s.Skipped), "skipped")

	ch <- prometheus.MustNewConstMetric(c.cancellations, prometheus.CounterValue, float64(s.Cancellations))
	ch <- prometheus.MustNewConstMetric(c.autoRemoved, prometheus.CounterValue, float64(s.AutoRemoved))
	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(s.Subscriptions))
	ch <- prometheus.MustNewConstMetric(c.channels, prometheus.GaugeValue, float64(s.Channels))
	ch <- prometheus.MustNewConstMetric(c.handlerTime, prometheus.CounterValue, s.HandlerDuration.Seconds())
}

// NewRegistry returns a registry holding a collector for source plus the
// Go runtime and process collectors.
func NewRegistry(namespace string, source StatsSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(namespace, source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics in reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
