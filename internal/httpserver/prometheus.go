package httpserver

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/threadtop-web/internal/sampler"
)

const metricsNamespace = "threadtop"

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()

	counter := func(subsystem, name, help string, value func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value())
		})
	}

	collectors := []prometheus.Collector{
		s.snapshotSeconds,
		counter("http", "searches_total", "Total process searches served.", s.searches.Load),
		counter("http", "snapshots_total", "Total process snapshots served.", s.snapshots.Load),
		counter("http", "bad_requests_total", "Total requests rejected for a malformed pid.", s.badRequests.Load),
		counter("snapshot", "threads_total", "Total thread entries returned in snapshots.", s.threadsRead.Load),
		counter("snapshot", "thread_read_failures_total", "Total thread entries that could not be read.", s.threadsFailed.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		counter("ws", "connections_total", "Total WebSocket connections accepted since start.", s.wsTotal.Load),
		counter("ws", "rejected_total", "Total WebSocket connection attempts rejected due to capacity.", s.wsRejected.Load),
		counter("ws", "messages_sent_total", "Total WebSocket messages sent to clients.", s.wsSent.Load),
		counter("ws", "messages_dropped_total", "Total WebSocket messages dropped due to backpressure.", s.wsDropped.Load),
	}

	if watched := newWatchedProcessCollector(s.sampler); watched != nil {
		collectors = append(collectors, watched)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// watchedProcessCollector exports the latest sample of every pid that has a
// live sampling stream.
type watchedProcessCollector struct {
	sampler *sampler.Manager
	metrics []processMetric
}

type processMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	extract   func(sample sampler.Sample) float64
}

func newWatchedProcessCollector(samplerManager *sampler.Manager) prometheus.Collector {
	if samplerManager == nil {
		return nil
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "process", name),
			help,
			[]string{"pid"},
			nil,
		)
	}

	return &watchedProcessCollector{
		sampler: samplerManager,
		metrics: []processMetric{
			{
				desc:      desc("threads", "Threads listed in the latest sample."),
				valueType: prometheus.GaugeValue,
				extract: func(sample sampler.Sample) float64 {
					return float64(len(sample.ThreadStats))
				},
			},
			{
				desc:      desc("unreadable_threads", "Threads whose stat could not be read in the latest sample."),
				valueType: prometheus.GaugeValue,
				extract: func(sample sampler.Sample) float64 {
					return float64(sample.Invalid())
				},
			},
			{
				desc:      desc("user_ticks", "Summed user-mode ticks of readable threads."),
				valueType: prometheus.GaugeValue,
				extract: func(sample sampler.Sample) float64 {
					var total uint64
					for _, ts := range sample.ThreadStats {
						if ts.Valid {
							total += ts.UTime
						}
					}
					return float64(total)
				},
			},
			{
				desc:      desc("system_ticks", "Summed kernel-mode ticks of readable threads."),
				valueType: prometheus.GaugeValue,
				extract: func(sample sampler.Sample) float64 {
					var total uint64
					for _, ts := range sample.ThreadStats {
						if ts.Valid {
							total += ts.STime
						}
					}
					return float64(total)
				},
			},
			{
				desc:      desc("sample_clock_ticks", "Monotonic clock reading of the latest sample in ticks."),
				valueType: prometheus.GaugeValue,
				extract: func(sample sampler.Sample) float64 {
					return sample.TicksClockNow
				},
			},
		},
	}
}

func (c *watchedProcessCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *watchedProcessCollector) Collect(ch chan<- prometheus.Metric) {
	for _, pid := range c.sampler.Watched() {
		sample, ok := c.sampler.Latest(pid)
		if !ok {
			continue
		}
		label := strconv.Itoa(pid)
		for _, metric := range c.metrics {
			ch <- prometheus.MustNewConstMetric(metric.desc, metric.valueType, metric.extract(sample), label)
		}
	}
}
