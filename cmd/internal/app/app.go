// Package app wires the projecthub server runtime: config, logging, the
// document backend, the identity store and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"projecthub/cmd/identity"
	"projecthub/cmd/internal/account"
	authapi "projecthub/cmd/internal/auth/api"
	"projecthub/cmd/internal/auth/session"
	"projecthub/cmd/internal/docstore"
	"projecthub/cmd/internal/metrics"
	"projecthub/cmd/internal/notify"
	"projecthub/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used when no pooled resources are held.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// App is the projecthub server runtime.
type App struct {
	cfg Config
	log Logger

	store   Store
	ids     *identity.Store
	handler http.Handler

	sweepEvery time.Duration
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	digester, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	backend, st, pool, err := newBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	// From here on every failure must release st.
	fail := func(err error) (*App, error) {
		_ = st.Close(context.Background())
		return nil, err
	}

	docs, err := docstore.NewClient(backend,
		docstore.WithDatabases(cfg.UsersDB, cfg.ProjectsDB),
		docstore.WithTimeout(cfg.DocstoreTimeout),
		docstore.WithObserver(m),
		docstore.WithLogger(log),
	)
	if err != nil {
		return fail(err)
	}

	ids, err := identity.NewStore(
		identity.WithHasher(pwCfg.NewHasher()),
		identity.WithDigester(digester),
		identity.WithSessionTTL(sessCfg.SessionTTL),
		identity.WithPendingTTL(sessCfg.PendingTTL),
		identity.WithResetCodeTTL(sessCfg.ResetCodeTTL),
	)
	if err != nil {
		return fail(err)
	}
	m.RegisterIdentityGauges(ids.Counts)

	notifier, err := newNotifier(cfg, log)
	if err != nil {
		return fail(err)
	}

	svc, err := account.NewService(ids, docs,
		account.WithNotifier(notifier),
		account.WithPasswordConfig(pwCfg),
		account.WithPublicURL(cfg.PublicURL),
		account.WithLogger(log),
		account.WithEvents(m),
	)
	if err != nil {
		return fail(err)
	}

	var auditor authapi.Auditor = authapi.LogAuditor{Log: log}
	if pool != nil {
		pa, err := authapi.NewPostgresAuditor(pool, log)
		if err != nil {
			return fail(err)
		}
		auditor = pa
	}

	auth, err := authapi.NewHandler(svc, ids,
		authapi.WithLogger(log),
		authapi.WithConfig(authapi.LoadConfigFromEnv()),
		authapi.WithAuditor(auditor),
	)
	if err != nil {
		return fail(err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, docs, m, auth)

	return &App{
		cfg:        cfg,
		log:        log,
		store:      st,
		ids:        ids,
		handler:    WithSecurityHeaders(WithRequestLogging(mux, log, m)),
		sweepEvery: sessCfg.SweepInterval,
	}, nil
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

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "docstore", a.cfg.Backend, "public_url", a.cfg.PublicURL)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sweep(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.store.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// sweep drops expired sessions, pending registrations and reset codes until ctx ends.
func (a *App) sweep(ctx context.Context) {
	if a.sweepEvery <= 0 {
		return
	}
	t := time.NewTicker(a.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := a.ids.Sweep(now); n > 0 {
				a.log.Debug("identity.sweep", "removed", n)
			}
		}
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

// newBackend selects the document backend. The returned Store owns any pool.
func newBackend(ctx context.Context, cfg Config, log Logger) (docstore.Backend, Store, *pgxpool.Pool, error) {
	switch cfg.Backend {
	case BackendCouch:
		var opts []docstore.CouchOption
		if cfg.CouchUser != "" {
			opts = append(opts, docstore.WithBasicAuth(cfg.CouchUser, cfg.CouchPassword))
		}
		b, err := docstore.NewCouchBackend(cfg.CouchURL, opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.CouchCreateDBs {
			for _, db := range []string{cfg.UsersDB, cfg.ProjectsDB} {
				if err := b.EnsureDatabase(ctx, db); err != nil {
					return nil, nil, nil, err
				}
			}
		}
		log.Info("docstore.enabled.couch")
		return b, nopStore{}, nil, nil

	case BackendPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		b, err := docstore.NewPostgresBackend(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := b.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		log.Info("docstore.enabled.postgres")
		return b, dbStore{pool: pool}, pool, nil

	default:
		log.Warn("docstore.enabled.memory", "note", "documents are lost on restart")
		return docstore.NewMemoryBackend(), nopStore{}, nil, nil
	}
}

func newNotifier(cfg Config, log Logger) (notify.Notifier, error) {
	switch cfg.Notifier {
	case NotifierSMTP:
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	case NotifierNone:
		return notify.Noop{}, nil
	default:
		return notify.LogNotifier{Log: log}, nil
	}
}
