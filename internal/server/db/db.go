package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/store"
)

func ParseDialect(s string) (store.Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "pgx", "postgresdb", "pg", "postgresql":
		return store.DialectPostgres, nil
	case "sqlite3", "sqlite", "":
		return store.DialectSQLite, nil
	default:
		return "", fmt.Errorf("invalid dialect: %s", s)
	}
}

// Open connects to the configured database and applies migrations when asked to.
func Open(ctx context.Context, cfg Config) (*store.DB, error) {
	dialect, err := ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	var db *sqlx.DB

	switch dialect {
	case store.DialectPostgres:
		db, err = sqlx.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}

		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}

		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}

		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	case store.DialectSQLite:
		db, err = sqlx.Open("sqlite", sqliteDSN(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}

		// One connection serializes every transaction.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := ping(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := store.New(db, dialect)

	if cfg.AutoMigrate {
		if err := Migrate(ctx, s); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file:classhub.db"
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(ctx context.Context, db *sql.DB) error {
	var err error

	const maxAttempts = 30

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("db ping: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}

	return fmt.Errorf("db ping timeout: %w", err)
}

// Migrate applies every pending migration for the store's dialect.
func Migrate(ctx context.Context, s *store.DB) error {
	fsys, err := store.Migrations(s.Dialect())
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	gooseDialect := goose.DialectSQLite3
	if s.Dialect() == store.DialectPostgres {
		gooseDialect = goose.DialectPostgres
	}

	provider, err := goose.NewProvider(gooseDialect, s.SQL(), fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	for _, r := range results {
		log.Info(ctx, "applied migration",
			log.String("source", r.Source.Path),
			log.Int64("version", r.Source.Version),
			log.Duration("duration", r.Duration),
		)
	}

	return nil
}
