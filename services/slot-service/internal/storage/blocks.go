package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

const blockColumns = `id, resource_id, unit_id, start_time, end_time, reason, created_by, created_at`

// InsertBlock writes b unless an active reservation overlaps it. Overlapping
// blocks are rejected by the blocks_no_overlap constraint.
func (s *Store) InsertBlock(ctx context.Context, b model.Block) error {
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		var taken bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM reservations
				WHERE resource_id = $1 AND unit_id = $2
					AND start_time < $4 AND end_time > $3
					AND `+activeClause+`
			)
		`, b.ResourceID, b.UnitID, b.Window.Start, b.Window.End).Scan(&taken); err != nil {
			return err
		}
		if taken {
			return model.ErrWriteConflict
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO blocks (`+blockColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, b.ID, b.ResourceID, b.UnitID, b.Window.Start, b.Window.End, b.Reason, b.CreatedBy, b.CreatedAt)
		return err
	})
	return translate(err, "block "+b.ID)
}

func (s *Store) FindBlock(ctx context.Context, id string) (model.Block, error) {
	b, err := scanBlock(s.pool.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE id = $1
	`, id))
	if err != nil {
		return model.Block{}, translate(err, "block "+id)
	}
	return b, nil
}

func (s *Store) DeleteBlock(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blocks WHERE id = $1`, id)
	if err != nil {
		return translate(err, "block "+id)
	}
	if tag.RowsAffected() == 0 {
		return translate(pgx.ErrNoRows, "block "+id)
	}
	return nil
}

func (s *Store) ListOverlappingBlocks(ctx context.Context, unit model.UnitRef, w window.Window) ([]model.Block, error) {
	return s.queryBlocks(ctx, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE resource_id = $1 AND unit_id = $2
			AND start_time < $4 AND end_time > $3
		ORDER BY start_time ASC, id ASC
	`, unit.ResourceID, unit.UnitID, w.Start, w.End)
}

func (s *Store) ListBlocksByResource(ctx context.Context, resourceID string, from time.Time) ([]model.Block, error) {
	return s.queryBlocks(ctx, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE resource_id = $1 AND end_time > $2
		ORDER BY start_time ASC, id ASC
	`, resourceID, from)
}

func (s *Store) queryBlocks(ctx context.Context, sql string, args ...any) ([]model.Block, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err, "list blocks")
	}
	defer rows.Close()

	var out []model.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, translate(err, "scan block")
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, translate(rows.Err(), "list blocks")
	}
	return out, nil
}

func scanBlock(row pgx.Row) (model.Block, error) {
	var b model.Block
	err := row.Scan(&b.ID, &b.ResourceID, &b.UnitID, &b.Window.Start, &b.Window.End, &b.Reason, &b.CreatedBy, &b.CreatedAt)
	return b, err
}
