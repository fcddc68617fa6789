package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
)

//go:embed schema.sql
var schema string

// activeClause mirrors model.Reservation.IsActive and the partial exclusion
// constraint on reservations.
const activeClause = `state IN ('confirmed', 'completed') AND (payment = 'paid' OR channel = 'offline')`

// Store implements the resource, block and reservation stores on Postgres.
type Store struct {
	pool *db.Pool
}

func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *db.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// translate maps driver errors onto the store contract.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrWriteConflict), errors.Is(err, model.ErrStateChanged):
		return err
	case errors.Is(err, apperr.NotFound), errors.Is(err, apperr.Conflict):
		return err
	case IsNotFound(err):
		return fmt.Errorf("%s: %w", what, apperr.NotFound)
	case IsConflict(err):
		return model.ErrWriteConflict
	case IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", what, apperr.Conflict)
	default:
		return apperr.Unavailablef(fmt.Errorf("%s: %w", what, err))
	}
}
