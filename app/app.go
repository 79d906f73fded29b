// Package app wires configuration, storage, the session service and the
// HTTP server into one runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kenryalonzo/doualairblog-auth/config"
	"github.com/kenryalonzo/doualairblog-auth/database"
	"github.com/kenryalonzo/doualairblog-auth/repository"
	"github.com/kenryalonzo/doualairblog-auth/sessions"
	"github.com/kenryalonzo/doualairblog-auth/telemetry"
	"github.com/kenryalonzo/doualairblog-auth/tokens"
	"github.com/kenryalonzo/doualairblog-auth/utils"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "doualairblog-auth"

// App owns the store, the sweeper and the HTTP server.
type App struct {
	cfg     config.Config
	log     zerolog.Logger
	client  *mongo.Client
	store   repository.Store
	metrics *telemetry.Metrics
	svc     *sessions.Service
	sweeper *sessions.Sweeper
	handler http.Handler
}

// New builds a fully wired App. With an empty MONGODB_URI it runs on the
// in-memory store.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	codec, err := tokens.NewCodec(cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	if err != nil {
		return nil, err
	}
	client, store, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()
	svc := sessions.NewService(store, codec, tokens.NewHasher(cfg.RefreshTokenHashKey), sessions.Options{
		MaxSessions:         cfg.MaxSessionsPerUser,
		RotateRefreshTokens: cfg.RotateRefreshTokens,
		Logger:              log,
		Metrics:             metrics,
	})

	a := &App{
		cfg:     cfg,
		log:     log,
		client:  client,
		store:   store,
		metrics: metrics,
		svc:     svc,
		sweeper: sessions.NewSweeper(store, sessions.SweeperOptions{
			Interval: cfg.SessionSweepInterval,
			Logger:   log,
			Metrics:  metrics,
		}),
	}
	a.handler = NewRouter(RouterDeps{
		Service:        svc,
		Metrics:        metrics,
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		Cookies:        utils.CookieOptions{Production: cfg.Production(), Domain: cfg.CookieDomain},
		Ready:          a.ready,
	})

	if err := a.seedAdmin(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func newStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (*mongo.Client, repository.Store, error) {
	if cfg.MongoURI == "" {
		log.Warn().Msg("MONGODB_URI not set, using in-memory store")
		return nil, repository.NewMemoryStore(), nil
	}
	client, err := database.Connect(ctx, cfg.MongoURI, log)
	if err != nil {
		return nil, nil, err
	}
	db := client.Database(cfg.DatabaseName)
	if err := database.EnsureIndexes(ctx, db, repository.UsersCollection); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	log.Info().Str("database", cfg.DatabaseName).Msg("mongo store ready")
	return client, repository.NewMongoStore(db), nil
}

func (a *App) seedAdmin(ctx context.Context) error {
	if a.cfg.AdminEmail == "" {
		return nil
	}
	created, err := a.svc.SeedAdmin(ctx, a.cfg.AdminEmail, a.cfg.AdminUsername, a.cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		a.log.Info().Str("email", a.cfg.AdminEmail).Msg("admin user created")
	}
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Ping(ctx, nil)
}

// Handler is the HTTP handler without the tracing wrapper.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Service() *sessions.Service { return a.svc }

// Run serves HTTP and runs the sweeper until ctx is done, then shuts both
// down within the configured timeout.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := telemetry.InitTracing(ctx, serviceName, a.cfg.OTLPEndpoint, a.log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           otelhttp.NewHandler(a.handler, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(sweepCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Bool("production", a.cfg.Production()).Msg("server.start")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("server.stop")
	case runErr = <-errCh:
		a.log.Error().Err(runErr).Msg("server.fail")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("server.shutdown_failed")
		runErr = errors.Join(runErr, err)
	}
	stopSweeper()
	wg.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("tracing.shutdown_failed")
	}
	if err := a.Close(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("store.close_failed")
	}
	a.log.Info().Msg("server.stopped")
	return runErr
}

// Close releases the database connection, if any.
func (a *App) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}
