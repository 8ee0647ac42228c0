package httpserver

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kvisser/memtrack"
)

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "memtrack",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "memtrack",
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "memtrack",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "memtrack",
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "memtrack",
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if monitorCollector := newMonitorCollector(s.monitor); monitorCollector != nil {
		collectors = append(collectors, monitorCollector)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// monitorSnapshot bundles everything a metric extractor may need.
type monitorSnapshot struct {
	stats     memtrack.Stats
	latest    memtrack.Sample
	hasLatest bool
}

type monitorCollector struct {
	monitor *memtrack.Monitor
	metrics []monitorMetric
}

type monitorMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(snap monitorSnapshot) (float64, bool)
}

func newMonitorCollector(monitor *memtrack.Monitor) prometheus.Collector {
	if monitor == nil {
		return nil
	}

	collector := &monitorCollector{monitor: monitor}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("memtrack", "monitor", name),
			help,
			nil,
			prometheus.Labels{"pid": strconv.Itoa(monitor.PID())},
		)
	}

	collector.metrics = []monitorMetric{
		{
			desc:      desc("samples_total", "Total memory samples captured."),
			valueType: prometheus.CounterValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				return float64(snap.stats.SamplesTotal), true
			},
		},
		{
			desc:      desc("cycles_skipped_total", "Sampling cycles skipped due to stat source failures."),
			valueType: prometheus.CounterValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				return float64(snap.stats.CyclesSkipped), true
			},
		},
		{
			desc:      desc("flushes_total", "Completed flushes of the sample buffer."),
			valueType: prometheus.CounterValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				return float64(snap.stats.Flushes), true
			},
		},
		{
			desc:      desc("flush_errors_total", "Flush attempts that failed."),
			valueType: prometheus.CounterValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				return float64(snap.stats.FlushErrors), true
			},
		},
		{
			desc:      desc("output_bytes_total", "Bytes written to the output file."),
			valueType: prometheus.CounterValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				return float64(snap.stats.BytesWritten), true
			},
		},
		{
			desc:      desc("buffered_samples", "Samples currently awaiting a flush."),
			valueType: prometheus.GaugeValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				return float64(snap.stats.Buffered), true
			},
		},
		{
			desc:      desc("events_declared", "User-declared events so far."),
			valueType: prometheus.GaugeValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				return float64(snap.stats.Events), true
			},
		},
		{
			desc:      desc("vm_peak_bytes", "Peak virtual memory size from the latest sample."),
			valueType: prometheus.GaugeValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				if !snap.hasLatest {
					return 0, false
				}
				return float64(snap.latest.VMPeak), true
			},
		},
		{
			desc:      desc("vm_rss_bytes", "Resident set size from the latest sample."),
			valueType: prometheus.GaugeValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				if !snap.hasLatest {
					return 0, false
				}
				return float64(snap.latest.VMRSS), true
			},
		},
		{
			desc:      desc("uptime_seconds", "Elapsed time covered by the latest sample."),
			valueType: prometheus.GaugeValue,
			extract: func(snap monitorSnapshot) (float64, bool) {
				if !snap.hasLatest {
					return 0, false
				}
				return snap.latest.Elapsed.Seconds(), true
			},
		},
	}

	return collector
}

func (c *monitorCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *monitorCollector) Collect(ch chan<- prometheus.Metric) {
	if c.monitor == nil {
		return
	}

	snap := monitorSnapshot{stats: c.monitor.Stats()}
	if latest, ok := c.monitor.Latest(); ok {
		snap.latest = latest
		snap.hasLatest = true
	}

	for _, metric := range c.metrics {
		value, ok := metric.extract(snap)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, value)
	}
}
