package monitoring

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	prometheus_metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"

	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/fleet"
)

const (
	MetricsNamespaceAPI   = "api"
	MetricsNamespaceFleet = "fleet"

	runMetricsSubsystem      = "run"
	platformMetricsSubsystem = "platform"

	exitCodeLabel = "exit_code"
	changeLabel   = "change"
)

type Service struct {
	Registry         *prometheus.Registry
	fineMiddleware   middleware.Middleware
	runCounter       *prometheus.CounterVec
	reconcileCounter *prometheus.CounterVec
	instancesGauge   *prometheus.GaugeVec
	postgresGauge    *prometheus.GaugeVec
	hitRatioGauge    *prometheus.GaugeVec
}

var _ fleet.Metrics = (*Service)(nil)

func traceID() string {
	return xid.New().String()
}

func Logged(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := time.Now()
		ctx, _ := common.TraceContextFunc(r.Context(), traceID)

		slog.Log(ctx, common.LevelTrace, "Started request", "path", r.URL.Path, "method", r.Method)
		defer func() {
			slog.Log(ctx, common.LevelTrace, "Finished request", "path", r.URL.Path, "method", r.Method,
				"duration", time.Since(t).Milliseconds())
		}()

		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func Traced(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, tid := common.TraceContextFunc(r.Context(), traceID)
		headers := w.Header()
		headers[common.HeaderTraceID] = []string{tid}
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func NewService() *Service {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespaceFleet,
			Subsystem: runMetricsSubsystem,
			Name:      "finished_total",
			Help:      "Total number of finished scraper runs",
		},
		[]string{exitCodeLabel},
	)
	reg.MustRegister(runCounter)

	reconcileCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespaceFleet,
			Subsystem: platformMetricsSubsystem,
			Name:      "reconcile_total",
			Help:      "Total number of instance changes applied by reconciliation",
		},
		[]string{changeLabel},
	)
	reg.MustRegister(reconcileCounter)

	instancesGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespaceFleet,
			Subsystem: platformMetricsSubsystem,
			Name:      "instances",
			Help:      "Number of live user instances",
		},
		[]string{},
	)
	reg.MustRegister(instancesGauge)

	postgresGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespaceFleet,
			Subsystem: platformMetricsSubsystem,
			Name:      "health_postgres",
			Help:      "Health status of Postgres",
		},
		[]string{},
	)
	reg.MustRegister(postgresGauge)

	hitRatioGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespaceFleet,
			Subsystem: platformMetricsSubsystem,
			Name:      "cache_hit_ratio",
			Help:      "In-memory cache hit ratio",
		},
		[]string{},
	)
	reg.MustRegister(hitRatioGauge)

	fineRecorder := prometheus_metrics.NewRecorder(prometheus_metrics.Config{
		Prefix:          "fine",
		Registry:        reg,
		DurationBuckets: []float64{.05, .1, .25, .5, 1, 2.5},
	})

	return &Service{
		Registry: reg,
		fineMiddleware: middleware.New(middleware.Config{
			// this is added as Service label
			Service:            MetricsNamespaceAPI,
			DisableMeasureSize: true,
			Recorder:           fineRecorder,
		}),
		runCounter:       runCounter,
		reconcileCounter: reconcileCounter,
		instancesGauge:   instancesGauge,
		postgresGauge:    postgresGauge,
		hitRatioGauge:    hitRatioGauge,
	}
}

func (s *Service) Handler(h http.Handler) http.Handler {
	// handlerID is taken from the request path in this case
	return std.Handler("", s.fineMiddleware, h)
}

func (s *Service) ObserveRun(exitCode string) {
	s.runCounter.With(prometheus.Labels{exitCodeLabel: exitCode}).Inc()
}

func (s *Service) ObserveReconcile(added, refreshed, removed int) {
	s.reconcileCounter.With(prometheus.Labels{changeLabel: "added"}).Add(float64(added))
	s.reconcileCounter.With(prometheus.Labels{changeLabel: "refreshed"}).Add(float64(refreshed))
	s.reconcileCounter.With(prometheus.Labels{changeLabel: "removed"}).Add(float64(removed))
}

func (s *Service) ObserveInstances(count int) {
	s.instancesGauge.With(prometheus.Labels{}).Set(float64(count))
}

func (s *Service) ObservePostgresHealth(healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}

	s.postgresGauge.With(prometheus.Labels{}).Set(value)
}

func (s *Service) ObserveCacheHitRatio(ratio float64) {
	s.hitRatioGauge.With(prometheus.Labels{}).Set(ratio)
}

func (s *Service) Setup(mux *http.ServeMux) {
	mux.Handle(http.MethodGet+" /metrics", common.Recovered(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry})))
}
