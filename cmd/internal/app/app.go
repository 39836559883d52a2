// Package app wires the Parley server runtime: config, logging, storage, the
// REST surface, and the realtime signaling gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"parley/cmd/internal/chat"
	chatapi "parley/cmd/internal/chat/api"
	"parley/cmd/internal/realtime"
	"parley/cmd/security/password"
	"parley/cmd/security/token"
)

// App is the Parley server runtime. It owns the store and its connections,
// the realtime hub components, and the HTTP wiring that exposes them.
type App struct {
	cfg Config
	log Logger

	store     chat.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool
	rdb       *redis.Client

	gateway *realtime.Gateway
	api     *chatapi.Handler
}

// New wires every component of the hub from config. A nil logger gets the
// default one built from the config's log level and format.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	if err := a.initStore(context.Background()); err != nil {
		return nil, err
	}

	metrics := realtime.NewMetrics(prometheus.DefaultRegisterer)
	registry := realtime.NewRegistry(log, metrics)

	// Presence state lives in Redis when configured, otherwise in the chat
	// store. Fan-out is in-process either way.
	var presenceStore realtime.PresenceStore = a.store
	if cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		presenceStore = realtime.NewRedisPresence(a.rdb, "parley")
		log.Info("presence.redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	}

	presence := realtime.NewPresence(log, presenceStore, a.store, registry)
	calls := realtime.NewCoordinator(log, registry, a.store, a.store, a.store, metrics)
	notifier := realtime.NewNotifier(log, registry, a.store)

	deps := realtime.GatewayDeps{
		Registry:   registry,
		Presence:   presence,
		Calls:      calls,
		Membership: a.store,
		Metrics:    metrics,
		ICEServers: realtime.ICEServersFromEnv(),
	}

	passwords, err := password.FromEnv()
	if err != nil {
		a.closeResources()
		return nil, err
	}

	apiOpts := []chatapi.HandlerOption{
		chatapi.WithNotifier(notifier),
		chatapi.WithCalls(calls),
	}

	// Token minting/verification turns on with the HMAC key. Leaving deps
	// untouched when disabled keeps the gateway's Tokens interface nil.
	if token.Enabled() {
		provider, err := token.FromEnv()
		if err != nil {
			a.closeResources()
			return nil, err
		}
		apiOpts = append(apiOpts, chatapi.WithTokens(provider))
		deps.Tokens = provider
		log.Info("tokens.enabled", "ttl", provider.TTL().String())
	}

	a.gateway = realtime.NewGateway(log, deps)

	apiHandler, err := chatapi.NewHandler(log, chatapi.LoadConfigFromEnv(), a.store, passwords, apiOpts...)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.api = apiHandler

	return a, nil
}

// initStore decides between Postgres-backed persistence and the in-memory
// dev store. The app owns the pool lifecycle; PostgresStore.Close is a no-op.
func (a *App) initStore(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("store.memory")
		a.store = chat.NewMemoryStore()
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return err
	}

	var opts []chat.PostgresOption
	if a.cfg.DBSchema != "" {
		opts = append(opts, chat.WithSchema(a.cfg.DBSchema))
	}

	store, err := chat.NewPostgresStore(pool, opts...)
	if err != nil {
		pool.Close()
		return err
	}

	a.log.Info("store.postgres", "max_conns", a.cfg.DBMaxConns)
	a.dbPool = pool
	a.dbEnabled = true
	a.store = store
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gateway, a.api)

	handler := WithRequestLogging(
		WithCORS(WithSecurityHeaders(mux), a.cfg, a.log),
		a.log,
	)

	srv := a.newHTTPServer(handler)

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbEnabled,
	)

	err := a.serve(ctx, srv)
	a.closeResources()
	if err != nil {
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// newHTTPServer builds the listener with every deadline pinned. Zero and
// negative config values fall back, so a partially filled Config can never
// yield a server that reads without timeouts.
func (a *App) newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: fallback(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       fallback(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      fallback(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       fallback(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    fallback(a.cfg.MaxHeaderBytes, 1<<20),
	}
}

// serve blocks until the context ends or the listener dies on its own, then
// drains in-flight requests within the shutdown grace window.
func (a *App) serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	return nil
}

// closeResources releases the store, pool, and redis client. Safe to call
// more than once.
func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
		a.store = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
}

// fallback substitutes def for zero and negative values.
func fallback[T int | int32 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// runtimeBaseURL renders a browsable http URL for a listen address, mapping
// wildcard binds to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL converts an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
