// Package repositories provides data access layer implementations.
// It handles all database operations and data persistence logic.
package repositories

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"bazaar/internal/config"
	"bazaar/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrStaleWrite is returned when a conditional update matched no row
	// because the stored state no longer satisfies its guard.
	ErrStaleWrite = errors.New("stale write: state changed concurrently")
	// ErrDuplicateEvent is returned when a webhook event id is already in
	// the ledger.
	ErrDuplicateEvent = errors.New("webhook event already processed")
	// ErrInsufficientStock is returned when a reservation exceeds stock.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Models lists every table owned by this service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.Listing{},
		&models.Transaction{},
		&models.SellerAccount{},
		&models.WebhookEvent{},
	}
}

// InitDB opens the Postgres connection, sizes its pool and configures the
// gorm logger. It does not migrate.
func InitDB(cfg config.DatabaseConfig, zlog *zap.Logger) (*gorm.DB, error) {
	if zlog == nil {
		zlog = zap.NewNop()
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port)

	// Configure GORM logger to ignore "record not found" errors
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  !config.IsProduction(),
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	zlog.Info("postgres connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name))
	return db, nil
}

// Migrate creates or updates every table in Models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
