package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

const reservationColumns = `id, resource_id, unit_id, start_time, end_time, requester_id, channel, state, payment,
	amount_minor, contact_number, created_at, confirmed_at, cancelled_at`

const blockedClause = `EXISTS (
	SELECT 1 FROM blocks
	WHERE resource_id = $1 AND unit_id = $2 AND start_time < $4 AND end_time > $3
)`

// InsertReservation writes r. Active reservations are rejected with
// model.ErrWriteConflict when a block covers the window or when the
// reservations_no_active_overlap constraint fires.
func (s *Store) InsertReservation(ctx context.Context, r model.Reservation) error {
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if r.IsActive() {
			var blocked bool
			if err := tx.QueryRow(ctx, `SELECT `+blockedClause, r.ResourceID, r.UnitID, r.Window.Start, r.Window.End).Scan(&blocked); err != nil {
				return err
			}
			if blocked {
				return model.ErrWriteConflict
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (`+reservationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, r.ID, r.ResourceID, r.UnitID, r.Window.Start, r.Window.End, r.RequesterID,
			string(r.Channel), string(r.State), string(r.Payment),
			r.AmountMinor, r.ContactNumber, r.CreatedAt, r.ConfirmedAt, r.CancelledAt)
		return err
	})
	return translate(err, "reservation "+r.ID)
}

// UpdateReservation locks the row, checks the transition guards and writes
// the new lifecycle fields.
func (s *Store) UpdateReservation(ctx context.Context, id string, tr model.ReservationTransition) (model.Reservation, error) {
	var out model.Reservation
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		r, err := scanReservation(tx.QueryRow(ctx, `
			SELECT `+reservationColumns+`
			FROM reservations
			WHERE id = $1
			FOR UPDATE
		`, id))
		if err != nil {
			return err
		}
		wasActive := r.IsActive()
		if err := tr.Apply(&r); err != nil {
			return err
		}
		if !wasActive && r.IsActive() {
			var blocked bool
			if err := tx.QueryRow(ctx, `SELECT `+blockedClause, r.ResourceID, r.UnitID, r.Window.Start, r.Window.End).Scan(&blocked); err != nil {
				return err
			}
			if blocked {
				return model.ErrWriteConflict
			}
		}
		_, err = tx.Exec(ctx, `
			UPDATE reservations
			SET state = $2, payment = $3, confirmed_at = $4, cancelled_at = $5
			WHERE id = $1
		`, id, string(r.State), string(r.Payment), r.ConfirmedAt, r.CancelledAt)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return model.Reservation{}, translate(err, "reservation "+id)
	}
	return out, nil
}

func (s *Store) FindReservation(ctx context.Context, id string) (model.Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id))
	if err != nil {
		return model.Reservation{}, translate(err, "reservation "+id)
	}
	return r, nil
}

func (s *Store) ListActiveOverlapping(ctx context.Context, unit model.UnitRef, w window.Window) ([]model.Reservation, error) {
	return s.queryReservations(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE resource_id = $1 AND unit_id = $2
			AND start_time < $4 AND end_time > $3
			AND `+activeClause+`
		ORDER BY start_time ASC, id ASC
	`, unit.ResourceID, unit.UnitID, w.Start, w.End)
}

func (s *Store) ListReservationsByResource(ctx context.Context, resourceID string) ([]model.Reservation, error) {
	return s.queryReservations(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE resource_id = $1
		ORDER BY start_time ASC, id ASC
	`, resourceID)
}

func (s *Store) ListReservationsByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	return s.queryReservations(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE requester_id = $1
		ORDER BY start_time ASC, id ASC
	`, requesterID)
}

func (s *Store) HasUpcoming(ctx context.Context, unit model.UnitRef, now time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE resource_id = $1 AND unit_id = $2
				AND state <> 'cancelled' AND end_time > $3
		)
	`, unit.ResourceID, unit.UnitID, now).Scan(&exists)
	if err != nil {
		return false, translate(err, "upcoming reservations")
	}
	return exists, nil
}

// DeleteExpiredPending removes online holds created before cutoff that never
// got paid. The filter matches model.Reservation.SweepableBefore.
func (s *Store) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int, error) {
	payments := make([]string, 0, len(model.SweepablePayments))
	for _, p := range model.SweepablePayments {
		payments = append(payments, string(p))
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM reservations
		WHERE channel = 'online'
			AND state = 'pending'
			AND payment = ANY($1)
			AND created_at < $2
	`, payments, cutoff)
	if err != nil {
		return 0, translate(err, "sweep pending")
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) queryReservations(ctx context.Context, sql string, args ...any) ([]model.Reservation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err, "list reservations")
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, translate(err, "scan reservation")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, translate(rows.Err(), "list reservations")
	}
	return out, nil
}

func scanReservation(row pgx.Row) (model.Reservation, error) {
	var r model.Reservation
	var channel, state, payment string
	var confirmedAt, cancelledAt *time.Time
	if err := row.Scan(
		&r.ID,
		&r.ResourceID,
		&r.UnitID,
		&r.Window.Start,
		&r.Window.End,
		&r.RequesterID,
		&channel,
		&state,
		&payment,
		&r.AmountMinor,
		&r.ContactNumber,
		&r.CreatedAt,
		&confirmedAt,
		&cancelledAt,
	); err != nil {
		return model.Reservation{}, err
	}
	r.Channel = model.Channel(channel)
	r.State = model.State(state)
	r.Payment = model.Payment(payment)
	r.ConfirmedAt = confirmedAt
	r.CancelledAt = cancelledAt
	return r, nil
}
