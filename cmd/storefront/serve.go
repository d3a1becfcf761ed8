package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/shopline/storefront/internal/api"
	"github.com/shopline/storefront/internal/api/handler"
	"github.com/shopline/storefront/internal/core/ports"
	"github.com/shopline/storefront/internal/core/service"
	"github.com/shopline/storefront/internal/infrastructure/db/memory"
	mongostore "github.com/shopline/storefront/internal/infrastructure/db/mongo"
	"github.com/shopline/storefront/internal/infrastructure/db/postgres"
	redisstore "github.com/shopline/storefront/internal/infrastructure/db/redis"
	"github.com/shopline/storefront/internal/infrastructure/queue"
	"github.com/shopline/storefront/internal/infrastructure/token"
	"github.com/shopline/storefront/internal/pkg/config"
	"github.com/shopline/storefront/pkg/logger"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. The server stops gracefully on SIGINT or SIGTERM,
flushing queued audit events before exiting.`,
		RunE: runServe,
	}
}

// backend is the storage selected by STORE_DRIVER.
type backend struct {
	store  ports.CredentialStore
	audit  ports.AuditRepository
	checks map[string]handler.Check
	close  []func()
}

func (b *backend) shutdown() {
	for i := len(b.close) - 1; i >= 0; i-- {
		b.close[i]()
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "storefront",
	})

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.shutdown()

	opts := service.AuthOptions{
		BcryptCost:    cfg.BcryptCost,
		ResetTokenTTL: cfg.Reset.TokenTTL,
		Notifier:      service.NewLogNotifier(log, cfg.Reset.RevealToken),
	}

	if cfg.Redis.Enabled {
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
		}
		be.close = append(be.close, func() { _ = rdb.Close() })
		be.checks["redis"] = redisstore.Pinger(rdb)
		opts.Limiter = redisstore.NewLoginLimiter(rdb, cfg.Login.MaxAttempts, cfg.Login.AttemptWindow)
	}

	codec, err := token.NewJWTCodec(token.Config{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "build token codec").Wrap(err)
	}

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	dispatcher := queue.NewAuditDispatcher(cfg.Audit.Workers, cfg.Audit.Buffer, be.audit, log)
	dispatcher.Start(workerCtx)
	opts.Audit = dispatcher

	authService := service.NewAuthService(be.store, codec, log, opts)

	e := api.NewRouter(api.Deps{
		Auth:   authService,
		Codec:  codec,
		Log:    log,
		Checks: be.checks,
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-serveErr:
		if runErr != nil {
			log.Error().Err(runErr).Msg("http server failed")
			runErr = oops.Code("HTTP_SERVER_FAILED").Wrap(runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	stopWorkers()
	dispatcher.Wait()
	log.Info().Msg("storefront stopped")
	return runErr
}

// openBackend connects the credential store and audit repository chosen by
// STORE_DRIVER.
func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	be := &backend{checks: map[string]handler.Check{}}

	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, db, err := mongostore.Connect(ctx, mongostore.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			AppName:  "storefront",
		})
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("driver", cfg.StoreDriver).Wrap(err)
		}
		be.close = append(be.close, func() { _ = client.Disconnect(context.Background()) })

		repo := mongostore.NewPrincipalRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			be.shutdown()
			return nil, oops.Code("DB_INDEX_FAILED").Wrap(err)
		}
		if err := mongostore.EnsureAuditIndexes(ctx, db); err != nil {
			be.shutdown()
			return nil, oops.Code("DB_INDEX_FAILED").Wrap(err)
		}
		be.store = repo
		be.audit = mongostore.NewAuditRepository(db)
		be.checks["mongodb"] = mongostore.Pinger(client)

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
		if err != nil {
			return nil, err
		}
		be.close = append(be.close, pool.Close)

		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				be.shutdown()
				return nil, err
			}
		}
		be.store = postgres.NewPrincipalStore(pool)
		be.audit = postgres.NewAuditRepository(pool)
		be.checks["postgres"] = pool.Ping

	case config.DriverMemory:
		log.Warn().Msg("using the in-memory store; data is lost on restart")
		be.store = memory.NewPrincipalStore()
		be.audit = memory.NewAuditRepository()

	default:
		return nil, oops.Code("CONFIG_INVALID").Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	return be, nil
}
