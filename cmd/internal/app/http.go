package app

import (
	"context"
	"net/http"
	"time"

	authapi "projecthub/cmd/internal/auth/api"
)

// Pinger reports backend readiness. *docstore.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsHandler serves the metrics registry. *metrics.Metrics satisfies it.
type MetricsHandler interface {
	Handler() http.Handler
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	docs Pinger,
	m MetricsHandler,
	auth *authapi.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if docs != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := docs.Ping(ctx); err != nil {
				http.Error(w, "docstore not ready", http.StatusServiceUnavailable)
				log.Info("readyz.docstore.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	if auth != nil {
		auth.Register(mux)
	}
}
