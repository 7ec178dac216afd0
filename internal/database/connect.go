package database

import (
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"strategyexecutor/internal/model"
	"strategyexecutor/internal/repository"
)

// MainDB is the read-write pool every repository writes through.
// ReadOnlyDB backs the reporting/analytics paths that never need to
// see a row before it is committed on the primary.
var (
	MainDB     *gorm.DB
	ReadOnlyDB *gorm.DB
)

// Entities lists every model AutoMigrate must know about. Kept as a
// single slice so InitMainDB and any migration tooling stay in sync.
func entities() []any {
	return []any{
		&model.User{},
		&model.BrokerLink{},
		&model.Account{},
		&model.ExecutionGroup{},
		&model.GroupAccountMapping{},
		&model.ExecutionRun{},
		&model.ExecutionEvent{},
		&model.Order{},
		&model.Trade{},
		&model.Position{},
		&model.RmsConfig{},
		&model.RmsCounters{},
		&model.RmsAuditEntry{},
		&model.Strategy{},
		&model.StrategyRun{},
		&model.StrategyRunExecutionLink{},
		&model.ScheduledJob{},
		&model.WebhookConnector{},
		&repository.WebhookDelivery{},
	}
}

// InitMainDB opens the primary pool, tunes it, and (when cfg.AutoMigrate
// is set) brings the schema up to date. It fatals on failure: a
// process with no database is not useful enough to keep starting.
func InitMainDB(cfg Config, log *logger.Entry) *gorm.DB {
	db := open(cfg.DatabaseURLMain, cfg, log)
	if cfg.AutoMigrate {
		if err := db.AutoMigrate(entities()...); err != nil {
			log.WithError(err).Fatal("failed to migrate database")
		}
	}
	MainDB = db
	log.Info("main database connection initialized")
	return db
}

// InitReadOnlyDB opens the replica pool. It never migrates: schema
// changes always land through the primary.
func InitReadOnlyDB(cfg Config, log *logger.Entry) *gorm.DB {
	db := open(cfg.DatabaseURLReadOnly, cfg, log)
	ReadOnlyDB = db
	log.Info("read-only database connection initialized")
	return db
}

func open(dsn string, cfg Config, log *logger.Entry) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.LogLevel(cfg.GormLogLevel)),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Fatal("failed to get sql.DB from gorm")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMins) * time.Minute)

	return db
}

// Ping is a cheap liveness check used by readiness probes.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database: get sql.DB: %w", err)
	}
	return sqlDB.Ping()
}
