package postgres

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/tracker/internal/domain"
)

// mapError translates driver errors into domain errors. Unknown errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return &domain.StoreUnavailableError{Err: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgErr.Code == pgerrcode.AdminShutdown,
		pgErr.Code == pgerrcode.CannotConnectNow:
		return &domain.StoreUnavailableError{Err: err}
	case pgErr.Code == pgerrcode.ForeignKeyViolation:
		return &domain.NotFoundError{Entity: "activity"}
	case pgErr.Code == pgerrcode.CheckViolation:
		return &domain.ValidationError{Field: pgErr.ConstraintName, Reason: pgErr.Message, Err: err}
	}
	return err
}
