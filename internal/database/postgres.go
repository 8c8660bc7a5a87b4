package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string
	SSLMode  string

	// ConnectAttempts and RetryDelay bound startup while the database comes
	// up. The delay doubles after every failed attempt.
	ConnectAttempts int
	RetryDelay      time.Duration

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewPostgresDB connects, sizes the pool and migrates the schema.
func NewPostgresDB(ctx context.Context, logger *logrus.Logger, cfg PostgresConfig) (*gorm.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"host":      cfg.Host,
		"database":  cfg.DBName,
	})

	db, err := connect(ctx, log, cfg.ConnectAttempts, cfg.RetryDelay, func() (*gorm.DB, error) {
		return gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := Migrate(db); err != nil {
		log.WithError(err).Error("Schema migration failed")
		return nil, err
	}

	log.WithField("max_open_conns", cfg.MaxOpenConns).Info("Database ready")
	return db, nil
}

// connect calls open until it succeeds, the attempts run out or ctx ends.
func connect(ctx context.Context, log *logrus.Entry, attempts int, delay time.Duration, open func() (*gorm.DB, error)) (*gorm.DB, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := open()
		if err == nil {
			return db, nil
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("Database connection failed")

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("database connection aborted: %w", ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, fmt.Errorf("database connection failed after %d attempts: %w", attempts, lastErr)
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}
