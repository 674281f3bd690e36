package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/phv-register/internal/metrics"
)

// Options configures the router.
type Options struct {
	Service  Service
	Verifier *TokenVerifier
	Metrics  *metrics.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Health reports readiness on /healthz; nil means always ready.
	Health              func(ctx context.Context) error
	MaxErrorsInResponse int
	MaxBodyBytes        int64 // default 10 MiB
	MaxUploadBytes      int64 // default 50 MiB
	RequestTimeout      time.Duration
	Log                 *zap.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(o Options) http.Handler {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 10 << 20
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 50 << 20
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	h := &Handler{
		svc:            o.Service,
		maxErrors:      o.MaxErrorsInResponse,
		maxBodyBytes:   o.MaxBodyBytes,
		maxUploadBytes: o.MaxUploadBytes,
		log:            o.Log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(o.Log, o.Metrics))
	r.Use(Recover(o.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if o.Health != nil {
			if err := o.Health(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if o.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", o.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(o.RequestTimeout))
		r.Use(RequireUploader(o.Verifier, o.Log))
		r.Post("/licences", h.submitLicences)
		r.Post("/register-jobs/csv", h.submitCSV)
		r.Put("/uploads/{bucket}/{filename}", h.uploadCSV)
		r.Get("/register-jobs/{name}", h.getJob)
		r.Get("/vehicles/{vrm}/licences", h.getVehicleLicences)
	})
	return r
}
