package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fetcharr/fetcharr/internal/auth"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/health"
	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/netutil"
)

// opsServer is the operational HTTP listener: health, readiness and
// prometheus metrics. It carries no application API.
type opsServer struct {
	srv *http.Server
}

func newOpsServer(cfg config.Ops, mgr *health.Manager, db *sqlx.DB) *opsServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.TrustProxyHeaders))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		report := mgr.Evaluate(req.Context())
		code := http.StatusOK
		if report.Status == health.StatusDown {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	metricsHandler := http.Handler(promhttp.Handler())
	if cfg.BasicAuthPasswordHash != "" {
		metricsHandler = basicAuth(cfg.BasicAuthUser, cfg.BasicAuthPasswordHash, metricsHandler)
	}
	r.Handle("/metrics", metricsHandler)

	return &opsServer{
		srv: &http.Server{
			Addr:              cfg.Listen,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Shutdown; it reports the terminal ListenAndServe error
// through errCh so the daemon can fail fast on a bad listen address.
func (o *opsServer) Start(errCh chan<- error) {
	go func() {
		if err := o.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

func (o *opsServer) Shutdown(ctx context.Context) error {
	return o.srv.Shutdown(ctx)
}

// basicAuth guards a handler with one configured credential pair. The probe
// endpoints stay open; only the metrics surface is gated.
func basicAuth(user, passwordHash string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if ok && subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 {
			if match, err := auth.VerifyPassword(p, passwordHash); err == nil && match {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="fetcharr"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func requestLogger(trustProxyHeaders bool) func(http.Handler) http.Handler {
	logger := log.WithComponent("ops")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("client_ip", netutil.ClientIP(r, trustProxyHeaders)).
				Msg("request")
		})
	}
}
