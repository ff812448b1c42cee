package db

import (
	"context"
	"database/sql"
	"fmt"
	"ms-tiket/internal/config"
	"ms-tiket/internal/logger"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Open connects to the database selected by cfg.Driver, retrying the first
// ping up to cfg.ConnectTries times.
func Open(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (*bun.DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		sqldb, err := connect(ctx, "postgres", cfg.PostgresDSN, cfg.ConnectTries, log)
		if err != nil {
			return nil, err
		}
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
		log.Info("DATABASE", "✅ PostgreSQL connection successful")
		return bun.NewDB(sqldb, pgdialect.New()), nil

	case config.DriverSQLite:
		sqldb, err := connect(ctx, sqliteshim.ShimName, cfg.SQLitePath, 1, log)
		if err != nil {
			return nil, err
		}
		// SQLite serialises writers; a single connection also keeps
		// :memory: databases alive across queries.
		sqldb.SetMaxOpenConns(1)
		log.Info("DATABASE", fmt.Sprintf("✅ SQLite database opened at %s", cfg.SQLitePath))
		return bun.NewDB(sqldb, sqlitedialect.New()), nil

	default:
		return nil, fmt.Errorf("driver %q is not a SQL store", cfg.Driver)
	}
}

func connect(ctx context.Context, driver, dsn string, tries int, log *logger.Logger) (*sql.DB, error) {
	if tries < 1 {
		tries = 1
	}

	var lastErr error
	for i := 0; i < tries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to %s (attempt %d/%d)", driver, i+1, tries))

		sqldb, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", driver, err)
		}
		if err = sqldb.PingContext(ctx); err == nil {
			return sqldb, nil
		}
		sqldb.Close()

		lastErr = err
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to %s: %v", driver, err))
		if i < tries-1 {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("connect to %s after %d attempts: %w", driver, tries, lastErr)
}
