package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dealer-backlog/internal/config"
)

// Handles bundles the connections one job invocation works with. The
// secondary handle is nil when no read-only store is configured.
type Handles struct {
	Primary   *gorm.DB
	Secondary *sql.DB
}

// Close releases both pools.
func (h *Handles) Close() error {
	var firstErr error
	if h.Primary != nil {
		if sqlDB, err := h.Primary.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				firstErr = err
			}
		}
	}
	if h.Secondary != nil {
		if err := h.Secondary.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MySQLDSN formats the go-sql-driver DSN for the primary store.
func MySQLDSN(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s",
		cfg.MySQLUser,
		cfg.MySQLPassword,
		cfg.MySQLHost,
		cfg.MySQLPort,
		cfg.MySQLDatabase,
		cfg.MySQLParams,
	)
}

// OpenPrimary returns a gorm DB for the backlog database.
func OpenPrimary(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(MySQLDSN(cfg)), GormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)

	return gdb, nil
}

// GormConfig is shared by the MySQL handle and the SQLite handles used in tests.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				Colorful:      false,
				LogLevel:      logger.Warn,
				SlowThreshold: time.Second,
			},
		),
	}
}

// OpenSecondary opens the read-only Postgres store. An empty DSN yields a
// nil handle and no error.
func OpenSecondary(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, nil
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connect secondary store: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return sqlDB, nil
}

// Open opens both stores. Callers must Close the result when the job ends.
func Open(cfg *config.Config) (*Handles, error) {
	primary, err := OpenPrimary(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect primary store: %w", err)
	}
	h := &Handles{Primary: primary}

	secondary, err := OpenSecondary(cfg.SecondaryDSN())
	if err != nil {
		h.Close()
		return nil, err
	}
	h.Secondary = secondary
	return h, nil
}
