package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/looplj/classhub/internal/errs"
)

// ErrAuditImmutable is returned when storage rejects a change to an audit row.
// Nothing in this repository issues such a statement; seeing it is a bug.
var ErrAuditImmutable = errors.New("audit_logs is append-only")

const appendOnlyMarker = "append-only"

// translate maps driver errors onto domain kinds. Unknown errors pass through.
func translate(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.KindNotFound, err, "record not found")
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return errs.Wrap(errs.KindConflict, err, "duplicate record")
		}

		if strings.Contains(se.Error(), appendOnlyMarker) {
			return errors.Join(ErrAuditImmutable, err)
		}

		return err
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch {
		case pe.Code == "23505":
			return errs.Wrap(errs.KindConflict, err, "duplicate record")
		case strings.Contains(pe.Message, appendOnlyMarker):
			return errors.Join(ErrAuditImmutable, err)
		}
	}

	return err
}

// notFound rewrites a missing-row error with the entity being looked up.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.KindNotFound, sql.ErrNoRows, format, args...)
	}

	return err
}

// IsUniqueViolation reports whether err came from a unique index.
func IsUniqueViolation(err error) bool {
	return errs.KindOf(err) == errs.KindConflict
}
