package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/example/fleetshare/internal/logging"
	"github.com/example/fleetshare/internal/metrics"
)

// RouterConfig names the handlers and shared middleware for the API surface.
type RouterConfig struct {
	Reservations *ReservationHandler
	Recurrences  *RecurrenceHandler
	Access       *AccessHandler
	Trips        *TripHandler
	Fees         *FeeHandler
	Logger       *slog.Logger
	Healthcheck  func() error
}

// NewRouter assembles the service routes behind request logging and metrics
// middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(metrics.Middleware())
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	if cfg.Reservations != nil {
		r.Post("/reservations", cfg.Reservations.Create)
		r.Delete("/reservations/{id}", cfg.Reservations.Cancel)
		r.Get("/reservations/{id}/fees", cfg.Reservations.ListFees)
	}

	if cfg.Recurrences != nil {
		r.Route("/recurrences", func(r chi.Router) {
			r.Post("/", cfg.Recurrences.Create)
			r.Post("/{id}/pause", cfg.Recurrences.Pause)
			r.Post("/{id}/resume", cfg.Recurrences.Resume)
			r.Post("/{id}/cancel", cfg.Recurrences.Cancel)
			r.Post("/{id}/expand", cfg.Recurrences.Expand)
		})
	}

	if cfg.Access != nil {
		r.Post("/vehicles/{id}/access-token", cfg.Access.Issue)
		r.Post("/vehicles/{id}/access-token/rotate", cfg.Access.Rotate)
	}

	if cfg.Trips != nil {
		r.Post("/trips/checkout", cfg.Trips.Checkout)
		r.Post("/trips/checkin", cfg.Trips.Checkin)
	}

	if cfg.Fees != nil {
		r.Post("/fees/{id}/waive", cfg.Fees.Waive)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Healthcheck != nil {
			if err := cfg.Healthcheck(); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// requestLogger attaches a per-request logger carrying the request id, method,
// and path, so service layers log with request context attached.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger := base.With(
				"request_id", chimw.GetReqID(req.Context()),
				"method", req.Method,
				"path", req.URL.Path,
			)
			ctx := logging.ContextWithLogger(req.Context(), logger)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
