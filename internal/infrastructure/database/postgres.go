package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"kamsentry/internal/config"
)

// PostgresDB represents PostgreSQL database connection
type PostgresDB struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	config *config.Config
	logger *slog.Logger
}

// NewPostgresDB creates a new PostgreSQL database connection, retrying the
// initial connect a bounded number of times since the worker is commonly
// started alongside Postgres in the same compose/k8s rollout.
func NewPostgresDB(cfg *config.Config, logger *slog.Logger) (*PostgresDB, error) {
	glogger := gormLogger.Default

	var db *gorm.DB
	var lastErr error
	attempts := cfg.Database.ConnectRetries
	if attempts <= 0 {
		attempts = 1
	}

	dsn := cfg.Database.URL
	if dsn == "" {
		dsn = cfg.GetDatabaseURL()
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		db, lastErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:                 glogger,
			SkipDefaultTransaction: true,
			PrepareStmt:            true,
		})
		if lastErr == nil {
			break
		}
		logger.Warn("PostgreSQL connect attempt failed", "attempt", attempt, "max_attempts", attempts, "error", lastErr)
		if attempt < attempts {
			time.Sleep(cfg.Database.ConnectBackoff)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", attempts, lastErr)
	}

	// Get underlying SQL DB for connection pooling
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("Connected to PostgreSQL database")

	return &PostgresDB{
		DB:     db,
		SqlDB:  sqlDB,
		config: cfg,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	p.logger.Info("Closing PostgreSQL connection")
	return p.SqlDB.Close()
}

// Health checks database health
func (p *PostgresDB) Health() error {
	return p.SqlDB.Ping()
}

// GetStats returns database connection statistics
func (p *PostgresDB) GetStats() sql.DBStats {
	return p.SqlDB.Stats()
}
