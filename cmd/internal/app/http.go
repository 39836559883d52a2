package app

import (
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	chatapi "parley/cmd/internal/chat/api"
	"parley/cmd/internal/realtime"
)

// readyzPingTimeout bounds the database round trip inside the readiness
// probe so a hung pool cannot stall the kubelet.
const readyzPingTimeout = 2 * time.Second

// registerHTTP mounts every HTTP surface on the mux: liveness and readiness
// probes, Prometheus metrics, the chat REST API, and the websocket gateway.
func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	gateway *realtime.Gateway,
	api *chatapi.Handler,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.HandleFunc("/readyz", readyz(log, cfg, dbPool, dbEnabled))
	mux.Handle("/metrics", promhttp.Handler())

	if api != nil {
		api.Register(mux)
	}
	if gateway != nil {
		mux.Handle("/ws", gateway)
	}
}

// readyz reports ready only once the hub can serve traffic. With a database
// configured that includes a live round trip; without one, readiness depends
// on whether the deployment requires the store.
func readyz(log Logger, cfg Config, dbPool *pgxpool.Pool, dbEnabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "store required but not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, readyzPingTimeout); err != nil {
				log.Info("readyz.db.not_ready", "err", err)
				http.Error(w, "store not ready", http.StatusServiceUnavailable)
				return
			}
		}

		_, _ = io.WriteString(w, "ready\n")
	}
}
