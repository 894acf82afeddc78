package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oeetrack/internal/model"
)

// Collector exposes engine and HTTP counters on its own registry, so several
// engines (or tests) can coexist in one process. A nil *Collector is a no-op.
type Collector struct {
	registry           *prometheus.Registry
	ingestTotal        *prometheus.CounterVec
	aggregationsTotal  prometheus.Counter
	kpiPercent         *prometheus.GaugeVec
	channelsConsidered prometheus.Gauge
	extrasDemoted      prometheus.Gauge
	snapshotsTotal     *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oee_ingest_total",
			Help: "Ingestion attempts by result.",
		}, []string{"result"}),
		aggregationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oee_aggregations_total",
			Help: "Monthly aggregations computed.",
		}),
		kpiPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oee_kpi_percent",
			Help: "Latest KPI values in percent by indicator.",
		}, []string{"indicator"}),
		channelsConsidered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oee_channels_considered",
			Help: "Channels included in the latest global averages.",
		}),
		extrasDemoted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oee_extras_demoted",
			Help: "Channels demoted beyond the fixed slot limit in the latest aggregation.",
		}),
		snapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oee_snapshots_total",
			Help: "History snapshot writes by sink and result.",
		}, []string{"sink", "result"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.ingestTotal,
		c.aggregationsTotal,
		c.kpiPercent,
		c.channelsConsidered,
		c.extrasDemoted,
		c.snapshotsTotal,
		c.httpRequestsTotal,
		c.httpDuration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Ingest(success bool) {
	if c == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	c.ingestTotal.WithLabelValues(result).Inc()
}

func (c *Collector) Aggregation(agg model.MonthlyAggregate) {
	if c == nil {
		return
	}
	c.aggregationsTotal.Inc()
	c.kpiPercent.WithLabelValues("availability").Set(agg.KPI.Availability)
	c.kpiPercent.WithLabelValues("performance").Set(agg.KPI.Performance)
	c.kpiPercent.WithLabelValues("quality").Set(agg.KPI.Quality)
	c.kpiPercent.WithLabelValues("oee").Set(agg.KPI.OEE)
	c.channelsConsidered.Set(float64(agg.Medias.ChannelsConsidered))
	c.extrasDemoted.Set(float64(len(agg.Extras)))
}

func (c *Collector) Snapshot(sink string, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.snapshotsTotal.WithLabelValues(sink, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (c *Collector) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if c != nil {
			c.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			c.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
