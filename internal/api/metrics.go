package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exported on /metrics.
type Metrics struct {
	SlotLookups      prometheus.Counter
	ColocationChecks *prometheus.CounterVec
	Plans            *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// NewMetrics registers the keyslot collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SlotLookups: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyslot_slot_lookups_total",
			Help: "Number of keys mapped to a slot.",
		}),
		ColocationChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyslot_colocation_checks_total",
			Help: "Number of multi-key co-location checks by outcome.",
		}, []string{"same_slot"}),
		Plans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyslot_plans_total",
			Help: "Number of topology plans by result.",
		}, []string{"result"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyslot_http_requests_total",
			Help: "Number of HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) plan(err error) {
	if err != nil {
		m.Plans.WithLabelValues("error").Inc()
		return
	}
	m.Plans.WithLabelValues("ok").Inc()
}

// instrument counts every request under its chi route pattern.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
