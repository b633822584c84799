package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ericfitz/collabd/api"
	"github.com/ericfitz/collabd/api/models"
	"github.com/ericfitz/collabd/internal/config"
	"github.com/ericfitz/collabd/internal/db"
	"github.com/ericfitz/collabd/internal/slogging"
	"github.com/ericfitz/collabd/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// application is every long-lived component of the server, wired together
type application struct {
	telemetry *telemetry.Service
	stores    *storeSet
	worker    *api.PersistenceWorker
	hub       *api.Hub
	reaper    *api.Reaper
	router    *gin.Engine
}

func newApplication(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	logger := slogging.Get()
	app := &application{}
	defer func() {
		if err != nil {
			_ = app.shutdown(context.Background(), time.Second)
		}
	}()

	app.telemetry, err = telemetry.NewService(ctx, telemetryConfigFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := telemetry.NewCollabMetrics(app.telemetry.GetMeter())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	app.stores, err = openStores(cfg)
	if err != nil {
		return nil, err
	}

	var persister api.Persister
	if store := app.stores.store(); store != nil {
		app.worker = api.NewPersistenceWorker(store, api.PersistenceWorkerConfig{
			QueueSize:    cfg.Persistence.QueueSize,
			Workers:      cfg.Persistence.Workers,
			WriteTimeout: cfg.Persistence.WriteTimeout,
		}, metrics)
		app.worker.Start()
		persister = app.worker
	} else {
		logger.Warn("No durable store configured; presence and edit operations are kept in memory only")
	}

	verifier, err := verifierFor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.hub = api.NewHub(hubConfigFor(cfg), persister, metrics)
	app.reaper = api.NewReaper(app.hub, cfg.WebSocket.ReapInterval)
	if err := app.reaper.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start reaper: %w", err)
	}

	opts := []api.ServerOption{api.WithMetrics(metrics)}
	if store := app.stores.store(); store != nil {
		opts = append(opts, api.WithStore(store))
	}
	if cfg.Telemetry.MetricsEnabled {
		opts = append(opts, api.WithMetricsHandler(app.telemetry.MetricsHandler()))
	}
	server := api.NewServer(app.hub, verifier, api.ServerConfig{
		WebSocketPath:     cfg.WebSocket.Path,
		AllowedOrigins:    cfg.WebSocket.AllowedOrigins,
		AutoJoinWorkspace: cfg.WebSocket.AutoJoinWorkspace,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
	}, opts...)

	app.router = newRouter(cfg, app.telemetry)
	server.RegisterRoutes(app.router)
	return app, nil
}

func newRouter(cfg *config.Config, tel *telemetry.Service) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(slogging.Recoverer())
	r.Use(slogging.LoggerMiddleware())
	if tel != nil && cfg.Telemetry.TracingEnabled {
		r.Use(tel.GinMiddleware())
	}
	return r
}

// shutdown stops components in dependency order: connections first so no
// new writes are queued, then the write queue, then the stores behind it
func (a *application) shutdown(ctx context.Context, hubTimeout time.Duration) error {
	logger := slogging.Get()
	var errs []error

	if a.hub != nil {
		hubCtx, cancel := waitTimeout(ctx, hubTimeout)
		if err := a.hub.Shutdown(hubCtx); err != nil {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		cancel()
	}
	if a.reaper != nil {
		a.reaper.Stop()
	}
	if a.worker != nil {
		if err := a.worker.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("persistence shutdown: %w", err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.stores != nil {
		if err := a.stores.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("Shutdown completed with errors: %v", err)
		return err
	}
	return nil
}

// storeSet owns the database connections behind the persistence worker
type storeSet struct {
	sql   *db.GormDB
	redis *db.RedisDB
	multi *api.MultiStore
}

func openStores(cfg *config.Config) (*storeSet, error) {
	logger := slogging.Get()
	set := &storeSet{}
	var stores []api.Store

	if cfg.Database.Type != "" && cfg.Database.Type != "none" {
		gormDB, err := db.NewGormDB(gormConfigFor(cfg))
		if err != nil {
			return set, fmt.Errorf("failed to connect to %s: %w", cfg.Database.Type, err)
		}
		set.sql = gormDB
		if cfg.Database.AutoMigrate {
			if err := gormDB.AutoMigrate(models.AllModels()...); err != nil {
				return set, fmt.Errorf("failed to migrate schema: %w", err)
			}
		}
		stores = append(stores, api.NewGormStore(gormDB.DB()))
		logger.Info("Persisting to %s", cfg.Database.Type)
	}

	if cfg.Database.Redis.Enabled {
		r := cfg.Database.Redis
		redisDB, err := db.NewRedisDB(db.RedisConfig{
			Host:       r.Host,
			Port:       r.Port,
			Password:   r.Password,
			DB:         r.DB,
			Instrument: cfg.Telemetry.TracingEnabled,
		})
		if err != nil {
			return set, fmt.Errorf("failed to connect to redis at %s: %w", net.JoinHostPort(r.Host, r.Port), err)
		}
		set.redis = redisDB
		stores = append(stores, api.NewRedisStore(redisDB.GetClient(), r.KeyPrefix, r.StreamMaxLen))
		logger.Info("Persisting to redis (prefix %q)", r.KeyPrefix)
	}

	if len(stores) > 0 {
		set.multi = api.NewMultiStore(stores...)
	}
	return set, nil
}

// store returns the combined store, or nil when nothing is configured
func (s *storeSet) store() api.Store {
	if s == nil || s.multi == nil {
		return nil
	}
	return s.multi
}

func (s *storeSet) Close() error {
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if s.sql != nil {
		if err := s.sql.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func gormConfigFor(cfg *config.Config) db.GormConfig {
	d := cfg.Database
	return db.GormConfig{
		Type: db.DatabaseType(d.Type),

		PostgresHost:     d.Postgres.Host,
		PostgresPort:     d.Postgres.Port,
		PostgresUser:     d.Postgres.User,
		PostgresPassword: d.Postgres.Password,
		PostgresDatabase: d.Postgres.Database,
		PostgresSSLMode:  d.Postgres.SSLMode,

		OracleUser:           d.Oracle.User,
		OraclePassword:       d.Oracle.Password,
		OracleConnectString:  d.Oracle.ConnectString,
		OracleWalletLocation: d.Oracle.WalletLocation,

		MySQLHost:     d.MySQL.Host,
		MySQLPort:     d.MySQL.Port,
		MySQLUser:     d.MySQL.User,
		MySQLPassword: d.MySQL.Password,
		MySQLDatabase: d.MySQL.Database,

		SQLServerHost:     d.SQLServer.Host,
		SQLServerPort:     d.SQLServer.Port,
		SQLServerUser:     d.SQLServer.User,
		SQLServerPassword: d.SQLServer.Password,
		SQLServerDatabase: d.SQLServer.Database,

		SQLitePath: d.SQLite.Path,
		Instrument: cfg.Telemetry.TracingEnabled,
	}
}
