package monitoring

import (
	"net/http"

	"github.com/shiftwatch/shiftwatch/pkg/fleet"
)

type stubMetrics struct{}

func NewStub() *stubMetrics {
	return &stubMetrics{}
}

var _ fleet.Metrics = (*stubMetrics)(nil)

func (sm *stubMetrics) Handler(h http.Handler) http.Handler {
	return h
}

func (sm *stubMetrics) ObserveRun(exitCode string) {}

func (sm *stubMetrics) ObserveReconcile(added, refreshed, removed int) {}

func (sm *stubMetrics) ObserveInstances(count int) {}

func (sm *stubMetrics) ObservePostgresHealth(healthy bool) {}

func (sm *stubMetrics) ObserveCacheHitRatio(ratio float64) {}
