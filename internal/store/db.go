package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/looplj/classhub/internal/pkg/xtime"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

//nolint:gochecknoinits // modernc registers as "sqlite", which sqlx does not know.
func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Lock selects the row lock taken by a read inside a transaction.
// sqlite serializes transactions on a single connection and ignores it.
type Lock int

const (
	LockNone Lock = iota
	LockShare
	LockUpdate
)

type DB struct {
	db      *sqlx.DB
	dialect Dialect
	clock   xtime.Clock
}

func New(db *sqlx.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect, clock: xtime.Real()}
}

// WithClock replaces the clock used to stamp created_at and updated_at.
func (d *DB) WithClock(clock xtime.Clock) *DB {
	d.clock = clock
	return d
}

func (d *DB) now() time.Time {
	return d.clock.Now()
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

// SQL exposes the underlying pool for migrations and health checks.
func (d *DB) SQL() *sql.DB {
	return d.db.DB
}

func (d *DB) Close() error {
	return d.db.Close()
}

type querier interface {
	sqlx.ExtContext
}

type txKey struct{}

func txFromContext(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

func (d *DB) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}

	return d.db
}

// RunInTx runs fn inside a transaction. A transaction already carried by ctx is
// joined instead of nested, so the outermost caller owns commit and rollback.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()

			panic(r)
		}

		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translate(fmt.Errorf("commit tx: %w", err))
	}

	committed = true

	return nil
}

func (d *DB) lockClause(lock Lock) string {
	if d.dialect != DialectPostgres {
		return ""
	}

	switch lock {
	case LockShare:
		return " FOR SHARE"
	case LockUpdate:
		return " FOR UPDATE"
	default:
		return ""
	}
}

func (d *DB) get(ctx context.Context, dest any, query string, args ...any) error {
	q := d.q(ctx)
	return translate(sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...))
}

// find is get that reports a missing row as false instead of an error.
func (d *DB) find(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	q := d.q(ctx)

	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, translate(err)
	}

	return true, nil
}

func (d *DB) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	q := d.q(ctx)
	return translate(sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...))
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (int64, error) {
	q := d.q(ctx)

	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, translate(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return n, nil
}

// insert runs an INSERT ... RETURNING id statement.
func (d *DB) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := d.get(ctx, &id, query+" RETURNING id", args...); err != nil {
		return 0, err
	}

	return id, nil
}
