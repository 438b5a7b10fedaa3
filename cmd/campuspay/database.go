package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/campuspay/internal/httpapi"
	"github.com/MarkoPoloResearchLab/campuspay/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/campuspay/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/campuspay/pkg/payment"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	sqliteMemory   = ":memory:"
)

// openReferenceStore returns a nil store when no database is configured.
func openReferenceStore(ctx context.Context, cfg httpapi.Config, logger *zap.Logger) (payment.ReferenceStore, func(), error) {
	noop := func() {}
	if cfg.DatabaseURL == "" {
		logger.Info("reference registry disabled")
		return nil, noop, nil
	}

	if cfg.RegistryBackend == httpapi.RegistryBackendPgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("pgx pool: %w", err)
		}
		store := pgstore.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		logger.Info("reference registry ready", zap.String("backend", httpapi.RegistryBackendPgx))
		return store, pool.Close, nil
	}

	db, closeDB, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, noop, fmt.Errorf("database open: %w", err)
	}
	cleanup := func() {
		if closeErr := closeDB(); closeErr != nil {
			logger.Warn("database close failed", zap.Error(closeErr))
		}
	}
	if err := prepareSchema(db); err != nil {
		cleanup()
		return nil, noop, err
	}
	logger.Info("reference registry ready",
		zap.String("backend", httpapi.RegistryBackendGorm),
		zap.String("driver", driver),
	)
	return gormstore.New(db), cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	cfg := &gorm.Config{TranslateError: true}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

// resolveDriver accepts postgres:// and postgresql:// URLs, sqlite:// URLs
// and bare sqlite paths (including ":memory:"). The sqlite parent directory
// is created when missing.
func resolveDriver(dsn string) (string, string, error) {
	scheme, rest, hasScheme := strings.Cut(dsn, "://")
	switch {
	case !hasScheme:
		return sqliteTarget(dsn)
	case scheme == "postgres" || scheme == "postgresql":
		return driverPostgres, "", nil
	case scheme == driverSQLite:
		return sqliteTarget(rest)
	default:
		return "", "", fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func sqliteTarget(path string) (string, string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", "", errors.New("sqlite path is empty")
	}
	if path == sqliteMemory {
		return driverSQLite, path, nil
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", fmt.Errorf("sqlite directory: %w", err)
	}
	return driverSQLite, path, nil
}

func prepareSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
