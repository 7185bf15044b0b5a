package app

import (
	"encoding/json"
	"net/http"
	"time"

	"commune/cmd/internal/api"
	"commune/cmd/internal/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
)

type healthResponse struct {
	Uptime    float64 `json:"uptime"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	started time.Time,
	dbPool *pgxpool.Pool,
	m *metrics.Metrics,
	handler *api.Handler,
) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		now := time.Now()
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(healthResponse{
			Uptime:    now.Sub(started).Seconds(),
			Message:   "Ok",
			Timestamp: now.UnixMilli(),
		})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	if handler != nil {
		handler.Register(mux)
	}
}

// buildHandler wraps mux in the middleware chain, outermost first:
// security headers, CORS, request id, metrics, request logging.
func buildHandler(mux http.Handler, cfg Config, log Logger, m *metrics.Metrics) http.Handler {
	var h http.Handler = WithRequestLogging(mux, log)
	if m != nil {
		h = m.Middleware(h)
	}
	h = WithRequestID(h)
	h = WithCORS(h, cfg, log)
	return WithSecurityHeaders(h)
}
