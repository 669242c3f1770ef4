// Package metrics exposes Prometheus instrumentation for the reservation core.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetshare_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetshare_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	reservationsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetshare_reservations_committed_total",
		Help: "Reservation candidates admitted by the conflict guard.",
	})

	reservationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetshare_reservations_rejected_total",
		Help: "Reservation candidates rejected, by reason.",
	}, []string{"reason"})

	reservationsBumped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetshare_reservations_bumped_total",
		Help: "Committed reservations displaced by emergency overrides.",
	})

	expansionInstances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetshare_recurrence_instances_total",
		Help: "Recurrence instances attempted during expansion, by outcome.",
	}, []string{"outcome"})

	tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetshare_access_tokens_issued_total",
		Help: "Vehicle access tokens issued, split by fresh issuance vs cache hit.",
	}, []string{"source"})

	tokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetshare_token_validations_total",
		Help: "Access token validations, by outcome.",
	}, []string{"outcome"})

	lateFees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetshare_late_fees_total",
		Help: "Late-return fees created at check-in.",
	})
)

// IncReservationCommitted records an admitted reservation.
func IncReservationCommitted() { reservationsCommitted.Inc() }

// IncReservationRejected records a rejected candidate by reason.
func IncReservationRejected(reason string) { reservationsRejected.WithLabelValues(reason).Inc() }

// AddReservationsBumped records reservations displaced by an emergency override.
func AddReservationsBumped(n int) { reservationsBumped.Add(float64(n)) }

// IncExpansionInstance records a recurrence instance attempt outcome
// (committed, skipped, anomaly).
func IncExpansionInstance(outcome string) { expansionInstances.WithLabelValues(outcome).Inc() }

// IncTokenIssued records a token issuance ("fresh" or "cached").
func IncTokenIssued(source string) { tokensIssued.WithLabelValues(source).Inc() }

// IncTokenValidation records a validation outcome (accepted, rejected, invalid).
func IncTokenValidation(outcome string) { tokenValidations.WithLabelValues(outcome).Inc() }

// IncLateFee records a late-return fee creation.
func IncLateFee() { lateFees.Inc() }

// Middleware records request counts and latencies labelled by chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := strconv.Itoa(ww.Status())
			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
