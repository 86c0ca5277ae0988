// Package database owns the PostgreSQL connection and the transactions
// repositories share through the request context.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"bella-server/internal/utils/idgen"
)

const adminDatabase = "postgres"

// Config controls GORM/PostgreSQL connectivity.
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        gormlogger.LogLevel
	SlowQuery       time.Duration
}

// Connect creates the target database when missing and opens a pooled
// GORM connection to it.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = gormlogger.Warn
	}

	if name, admin, ok := adminDSN(cfg.DSN); ok {
		if err := ensureDatabase(ctx, admin, name, log); err != nil {
			return nil, fmt.Errorf("ensure database %s: %w", name, err)
		}
	}

	db, err := Open(postgres.Open(cfg.DSN), cfg.LogLevel, log, cfg.SlowQuery)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("retrieve sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Open opens a GORM connection with singular table names and SQL logging
// routed through log. A zero slowQuery disables slow query warnings.
func Open(dialector gorm.Dialector, level gormlogger.LogLevel, log zerolog.Logger, slowQuery time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt:    true,
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger: gormlogger.New(gormWriter{log: log.With().Str("component", "gorm").Logger()}, gormlogger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}
	return db, nil
}

// gormWriter sends GORM's log lines to zerolog.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn().Msgf(format, args...)
}

// adminDSN returns the database named by dsn and a DSN for the same server's
// maintenance database. ok is false when there is nothing to create.
// Both URL and keyword/value DSNs are understood.
func adminDSN(dsn string) (name, admin string, ok bool) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", false
		}
		name = strings.TrimPrefix(u.Path, "/")
		u.Path = "/" + adminDatabase
		admin = u.String()
	} else {
		fields := strings.Fields(dsn)
		for i, f := range fields {
			if v, found := strings.CutPrefix(f, "dbname="); found {
				name = strings.Trim(v, `'`)
				fields[i] = "dbname=" + adminDatabase
			}
		}
		admin = strings.Join(fields, " ")
	}
	if name == "" || name == adminDatabase {
		return "", "", false
	}
	return name, admin, true
}

func ensureDatabase(ctx context.Context, admin, name string, log zerolog.Logger) error {
	sqlDB, err := sql.Open("postgres", admin)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var exists bool
	if err := sqlDB.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists); err != nil {
		return fmt.Errorf("look up database: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := sqlDB.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	log.Info().Str("database", name).Msg("database created")
	return nil
}

type txContextKey struct{}

// WithTx returns a context that carries tx.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// Database hands repositories the transaction bound to a context, falling
// back to the pool.
type Database struct {
	db *gorm.DB
}

// NewDatabase wraps a connection pool.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetTx returns the transaction carried by ctx, or the pool.
func (d *Database) GetTx(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return d.db.WithContext(ctx)
}

// DB returns the underlying pool.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Ping reports whether the pool can reach the database.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn in one transaction and returns the transaction's
// marker. Nested calls join the outer transaction.
func (d *Database) Transaction(ctx context.Context, fn func(ctx context.Context) error) (string, error) {
	if _, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		marker, err := d.marker(d.GetTx(ctx))
		if err != nil {
			return "", err
		}
		return marker, fn(ctx)
	}

	var marker string
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := d.marker(tx)
		if err != nil {
			return err
		}
		marker = m
		return fn(WithTx(ctx, tx))
	})
	if err != nil {
		return "", err
	}
	return marker, nil
}

// marker identifies the running transaction. On PostgreSQL it is the
// transaction id, which readers compare with pg_snapshot_xmin of their own
// snapshot to know whether the write is visible. Other dialects get an
// opaque unique id.
func (d *Database) marker(tx *gorm.DB) (string, error) {
	if tx.Dialector.Name() != "postgres" {
		return idgen.New("tx"), nil
	}
	var xid string
	if err := tx.Raw("SELECT pg_current_xact_id()::text").Scan(&xid).Error; err != nil {
		return "", fmt.Errorf("read transaction id: %w", err)
	}
	return xid, nil
}
