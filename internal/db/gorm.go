package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ericfitz/collabd/internal/slogging"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseType represents the type of database
type DatabaseType string

const (
	DatabaseTypePostgres  DatabaseType = "postgres"
	DatabaseTypeOracle    DatabaseType = "oracle"
	DatabaseTypeMySQL     DatabaseType = "mysql"
	DatabaseTypeSQLServer DatabaseType = "sqlserver"
	DatabaseTypeSQLite    DatabaseType = "sqlite"
)

// GormConfig holds the configuration for a GORM database connection
type GormConfig struct {
	Type DatabaseType

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string //nolint:gosec // connection password
	PostgresDatabase string
	PostgresSSLMode  string

	OracleUser           string
	OraclePassword       string //nolint:gosec // connection password
	OracleConnectString  string
	OracleWalletLocation string

	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string //nolint:gosec // connection password
	MySQLDatabase string

	SQLServerHost     string
	SQLServerPort     string
	SQLServerUser     string
	SQLServerPassword string //nolint:gosec // connection password
	SQLServerDatabase string

	// SQLitePath is a file path or ":memory:"
	SQLitePath string

	// Instrument installs the otelgorm tracing plugin
	Instrument bool
}

// GormDB is a GORM connection to any of the supported databases
type GormDB struct {
	db  *gorm.DB
	cfg GormConfig
}

// dialectorFor builds the GORM dialector for cfg.Type
func dialectorFor(cfg GormConfig) (gorm.Dialector, error) {
	log := slogging.Get()

	switch cfg.Type {
	case DatabaseTypePostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser,
			cfg.PostgresPassword, cfg.PostgresDatabase, cfg.PostgresSSLMode,
		)
		log.Debug("Using PostgreSQL dialector for %s:%s/%s", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDatabase)
		return postgres.Open(dsn), nil

	case DatabaseTypeOracle:
		dialector := getOracleDialector(cfg)
		if dialector == nil {
			return nil, fmt.Errorf("oracle support not compiled in; rebuild with -tags oracle")
		}
		log.Debug("Using Oracle dialector for %s", cfg.OracleConnectString)
		return dialector, nil

	case DatabaseTypeMySQL:
		// parseTime=true is required for time.Time scanning
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
			cfg.MySQLUser, cfg.MySQLPassword, cfg.MySQLHost, cfg.MySQLPort, cfg.MySQLDatabase)
		log.Debug("Using MySQL dialector for %s:%s/%s", cfg.MySQLHost, cfg.MySQLPort, cfg.MySQLDatabase)
		return mysql.Open(dsn), nil

	case DatabaseTypeSQLServer:
		dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%s?database=%s",
			cfg.SQLServerUser, cfg.SQLServerPassword, cfg.SQLServerHost, cfg.SQLServerPort, cfg.SQLServerDatabase)
		log.Debug("Using SQL Server dialector for %s:%s/%s", cfg.SQLServerHost, cfg.SQLServerPort, cfg.SQLServerDatabase)
		return sqlserver.Open(dsn), nil

	case DatabaseTypeSQLite:
		log.Debug("Using SQLite dialector for %s", cfg.SQLitePath)
		return sqlite.Open(cfg.SQLitePath), nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// NewGormDB opens, configures and pings a database connection
func NewGormDB(cfg GormConfig) (*GormDB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	return NewGormDBWithDialector(dialector, cfg)
}

// NewGormDBWithDialector opens a connection on an already built dialector
func NewGormDBWithDialector(dialector gorm.Dialector, cfg GormConfig) (*GormDB, error) {
	log := slogging.Get()

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		// every write is a single statement
		SkipDefaultTransaction: true,
	})
	if err != nil {
		log.Error("Failed to open GORM connection: %v", err)
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}

	if cfg.Instrument {
		if err := db.Use(otelgorm.NewPlugin(otelgorm.WithDBName(string(cfg.Type)))); err != nil {
			return nil, fmt.Errorf("failed to install otelgorm plugin: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(4 * time.Minute)
	sqlDB.SetConnMaxIdleTime(30 * time.Second)

	g := &GormDB{db: db, cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug("GORM connection established for database type: %s", cfg.Type)
	return g, nil
}

// Close closes the database connection
func (g *GormDB) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("error closing database connection: %w", err)
	}
	return nil
}

// DB returns the GORM database instance
func (g *GormDB) DB() *gorm.DB {
	return g.db
}

// DatabaseType returns the configured database type
func (g *GormDB) DatabaseType() DatabaseType {
	return g.cfg.Type
}

// Ping checks if the database connection is alive
func (g *GormDB) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate runs GORM auto-migration for the given models
func (g *GormDB) AutoMigrate(models ...any) error {
	log := slogging.Get()

	if err := g.db.AutoMigrate(models...); err != nil {
		// ORA-01442: column already NOT NULL; the schema is already in the desired state
		if g.cfg.Type == DatabaseTypeOracle && strings.Contains(err.Error(), "ORA-01442") {
			log.Warn("Oracle migration warning (ignored): column already NOT NULL")
			return nil
		}
		log.Error("GORM auto-migration failed: %v", err)
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	log.Debug("GORM auto-migration completed for %d models", len(models))
	return nil
}

// gormLogger adapts slogging to GORM's logger interface
type gormLogger struct {
	log *slogging.Logger
}

func newGormLogger(log *slogging.Logger) logger.Interface {
	return &gormLogger{log: log}
}

func (l *gormLogger) LogMode(logger.LogLevel) logger.Interface {
	return l
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	l.log.Info(msg, data...)
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	l.log.Warn(msg, data...)
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	l.log.Error(msg, data...)
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	sql, rows := fc()
	if err != nil {
		l.log.Error("GORM query error: %v [%s] (%d rows, %s)", err, sql, rows, time.Since(begin))
		return
	}
	l.log.Debug("GORM query: %s (%d rows, %s)", sql, rows, time.Since(begin))
}
