package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"questionnaire/internal/config"
	"questionnaire/internal/pkg/logging"
)

type PoolOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to the store described by params and verifies it answers a
// ping. Each statement runs in its own implicit transaction.
func Open(ctx context.Context, params config.ConnParams, pool PoolOptions) (*gorm.DB, error) {
	db, err := gorm.Open(Dialector(params), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logging.NewGormLogger(slog.Default()),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", params.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get %s sql db failed: %w", params.Driver, err)
	}

	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s failed: %w", params.Driver, err)
	}

	return db, nil
}

func Dialector(params config.ConnParams) gorm.Dialector {
	if params.Driver == config.DriverMySQL {
		return mysql.Open(params.DSN())
	}
	return postgres.Open(params.DSN())
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db failed: %w", err)
	}
	return sqlDB.Close()
}
