// Package app wires the auth server runtime: config, logging, storage, the
// device gateway, OTP dispatch and the HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity"
	authapi "github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/auth/api"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/auth/session"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/dispatch"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/gateway"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/otp"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App owns every long-lived dependency and the HTTP server built on them.
type App struct {
	cfg Config
	log Logger

	reg  *prometheus.Registry
	pool *pgxpool.Pool
	rdb  *redis.Client

	otp      *otp.Service
	sessions *session.Service
	gw       *gateway.Gateway
	bridge   *dispatch.Bridge
	auth     *authapi.Handler

	handler http.Handler
}

// New constructs a fully wired App. Without AUTOTM_DATABASE_URL every store
// is in-memory.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{cfg: cfg, log: log}
	// a stays non-nil here even when the result is nil.
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	// A typed nil *Registry must not reach the NewMetrics constructors.
	var registerer prometheus.Registerer
	if cfg.MetricsEnabled {
		a.reg = prometheus.NewRegistry()
		a.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registerer = a.reg
	}

	if cfg.DatabaseURL != "" {
		a.pool, err = NewDBPool(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	} else {
		log.Info("db.disabled.inmemory_store")
	}

	otpCfg, err := otp.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("otp config: %w", err)
	}
	otpStore, err := a.newOTPStore()
	if err != nil {
		return nil, err
	}
	a.otp, err = otp.NewService(otpCfg, otpStore, otp.WithLogger(log), otp.WithMetrics(otp.NewMetrics(registerer)))
	if err != nil {
		return nil, err
	}

	users, err := a.newUserStore()
	if err != nil {
		return nil, err
	}

	a.sessions, err = a.newSessionService(ctx, registerer)
	if err != nil {
		return nil, err
	}

	gwCfg, err := gateway.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("gateway config: %w", err)
	}
	if gwCfg.SharedSecret == "" {
		log.Warn("gateway.shared_secret.missing", "hint", "any client can register as a device")
	}
	a.gw = gateway.New(gwCfg, log, gateway.WithMetrics(gateway.NewMetrics(registerer)))

	a.bridge, err = a.newBridge(otpCfg.TTL)
	if err != nil {
		return nil, err
	}

	var auditor authapi.Auditor = authapi.NewMemoryAuditor()
	if a.pool != nil {
		auditor, err = authapi.NewPostgresAuditor(a.pool, cfg.DBSchema)
		if err != nil {
			return nil, err
		}
	}
	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), authapi.Deps{
		OTP:      a.otp,
		Sender:   a.bridge,
		Users:    users,
		Sessions: a.sessions,
		Auditor:  auditor,
	})
	if err != nil {
		return nil, err
	}

	a.handler = a.routes()
	return a, nil
}

func (a *App) newOTPStore() (otp.Store, error) {
	if a.pool == nil {
		return otp.NewMemoryStore(), nil
	}
	return otp.NewPostgresStore(a.pool, otp.WithSchema(a.cfg.DBSchema))
}

func (a *App) newUserStore() (identity.Store, error) {
	if a.pool == nil {
		return identity.NewMemoryStore(), nil
	}
	return identity.NewPostgresStore(a.pool, identity.WithSchema(a.cfg.DBSchema))
}

func (a *App) newSessionService(ctx context.Context, reg prometheus.Registerer) (*session.Service, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	signer, err := session.NewSigner(sessCfg)
	if err != nil {
		return nil, err
	}
	hasher, err := token.HasherFromEnv(a.cfg.RequireTokenHMAC)
	if err != nil {
		return nil, err
	}

	var store session.Store
	backend := a.cfg.SessionStore
	if backend == SessionStoreAuto || backend == "" {
		backend = SessionStoreMemory
		if a.pool != nil {
			backend = SessionStorePostgres
		}
	}
	switch backend {
	case SessionStoreMemory:
		store = session.NewMemoryStore()
	case SessionStorePostgres:
		if a.pool == nil {
			return nil, errors.New("session store postgres requires AUTOTM_DATABASE_URL")
		}
		store, err = session.NewPostgresStore(a.pool, a.cfg.DBSchema)
	case SessionStoreRedis:
		a.rdb, err = newRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		store, err = session.NewRedisStore(a.rdb, sessCfg.RefreshTokenTTL)
	default:
		return nil, fmt.Errorf("unknown AUTOTM_SESSION_STORE %q", a.cfg.SessionStore)
	}
	if err != nil {
		return nil, err
	}
	a.log.Info("session.store.selected", "backend", backend, "format", sessCfg.Format, "hmac", hasher.HMAC())

	return session.NewService(sessCfg, signer, store, hasher,
		session.WithLogger(a.log),
		session.WithMetrics(session.NewMetrics(reg)),
	)
}

func newRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, errors.New("session store redis requires AUTOTM_REDIS_URL")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (a *App) newBridge(codeTTL time.Duration) (*dispatch.Bridge, error) {
	dCfg, err := dispatch.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("dispatch config: %w", err)
	}
	dCfg.CodeTTL = codeTTL

	var sink dispatch.EventSink = dispatch.NopSink{}
	if len(dCfg.KafkaBrokers) > 0 {
		ks, err := dispatch.NewKafkaSink(dCfg.KafkaBrokers, dCfg.KafkaTopic, a.log)
		if err != nil {
			return nil, err
		}
		sink = ks
		a.log.Info("dispatch.sink.kafka", "topic", dCfg.KafkaTopic, "brokers", len(dCfg.KafkaBrokers))
	}

	return dispatch.NewBridge(dCfg, a.gw, a.otp, dispatch.WithLogger(a.log), dispatch.WithSink(sink))
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil, "metrics", a.reg != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			errs = append(errs, err)
		}
		if err := a.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		a.log.Info("server.stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}

// Close stops the gateway, drains dispatch watchers and releases stores.
// Device connections are hijacked, so srv.Shutdown does not wait for them.
func (a *App) Close(ctx context.Context) error {
	if a.gw != nil {
		a.gw.Close()
	}
	var err error
	if a.bridge != nil {
		if err = a.bridge.Close(ctx); err != nil {
			a.log.Error("dispatch.close.fail", "err", err)
		}
	}
	a.closeStores()
	return err
}

func (a *App) closeStores() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
