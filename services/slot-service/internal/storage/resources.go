package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/model"
)

type unitRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

const resourceColumns = `id, owner_id, name, location, timezone, hourly_rate_minor, units, created_at, updated_at`

func (s *Store) CreateResource(ctx context.Context, r model.Resource) error {
	units, err := encodeUnits(r.Units)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO resources (`+resourceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.OwnerID, r.Name, r.Location, r.Timezone, r.HourlyRateMinor, units, r.CreatedAt, r.UpdatedAt)
	return translate(err, "resource "+r.ID)
}

func (s *Store) GetResource(ctx context.Context, id string) (model.Resource, error) {
	r, err := scanResource(s.pool.QueryRow(ctx, `
		SELECT `+resourceColumns+`
		FROM resources
		WHERE id = $1
	`, id))
	if err != nil {
		return model.Resource{}, translate(err, "resource "+id)
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context, filter model.ResourceFilter) ([]model.Resource, error) {
	var ids []string
	if len(filter.ResourceIDs) > 0 {
		ids = filter.ResourceIDs
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+resourceColumns+`
		FROM resources
		WHERE ($1::text[] IS NULL OR id = ANY($1))
		  AND ($2::text = '' OR owner_id = $2)
		ORDER BY created_at ASC, id ASC
	`, ids, filter.OwnerID)
	if err != nil {
		return nil, translate(err, "list resources")
	}
	defer rows.Close()

	var out []model.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, translate(err, "scan resource")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, translate(rows.Err(), "list resources")
	}
	return out, nil
}

func (s *Store) UpdateResourceUnits(ctx context.Context, id string, units []model.Unit, at time.Time) error {
	raw, err := encodeUnits(units)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE resources
		SET units = $2, updated_at = $3
		WHERE id = $1
	`, id, raw, at)
	if err != nil {
		return translate(err, "resource "+id)
	}
	if tag.RowsAffected() == 0 {
		return translate(pgx.ErrNoRows, "resource "+id)
	}
	return nil
}

func scanResource(row pgx.Row) (model.Resource, error) {
	var r model.Resource
	var raw []byte
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Location, &r.Timezone, &r.HourlyRateMinor, &raw, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return model.Resource{}, err
	}
	var units []unitRow
	if err := json.Unmarshal(raw, &units); err != nil {
		return model.Resource{}, err
	}
	r.Units = make([]model.Unit, 0, len(units))
	for _, u := range units {
		r.Units = append(r.Units, model.Unit{ID: u.ID, Name: u.Name, Available: u.Available})
	}
	return r, nil
}

func encodeUnits(units []model.Unit) ([]byte, error) {
	rows := make([]unitRow, 0, len(units))
	for _, u := range units {
		rows = append(rows, unitRow{ID: u.ID, Name: u.Name, Available: u.Available})
	}
	return json.Marshal(rows)
}
