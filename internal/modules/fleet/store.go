package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegopirazabal/docproy/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const vehicleColumns = `id, plate, make, model, capacity, status, location_id,
	planned_status, planned_from, planned_until, created_at`

func (s *Store) Create(ctx context.Context, v *Vehicle) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vehicles (id, plate, make, model, capacity, status, location_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(v.ID), v.Plate, v.Make, v.Model, v.Capacity, string(v.Status), string(v.LocationID), v.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicatePlate
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Vehicle, error) {
	row := s.db.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, string(id))
	return scanVehicle(row)
}

func (s *Store) List(ctx context.Context) ([]Vehicle, error) {
	rows, err := s.db.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// ScheduleInactivity records a pending state change. The guard enforces
// both preconditions at once: the vehicle must be operational and must not
// already carry a pending window.
func (s *Store) ScheduleInactivity(ctx context.Context, id types.ID, target Status, from, until time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE vehicles
		SET planned_status = $1, planned_from = $2, planned_until = $3
		WHERE id = $4 AND status = 'operational' AND planned_status IS NULL`,
		string(target), from, until, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// BeginDueInactivity flips every operational vehicle whose planned window
// has started into its planned state, clearing the start marker but keeping
// the end marker so EndDueInactivity can revert it later.
func (s *Store) BeginDueInactivity(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE vehicles
		SET status = planned_status, planned_status = NULL, planned_from = NULL
		WHERE status = 'operational' AND planned_status IS NOT NULL AND planned_from <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// EndDueInactivity reverts vehicles whose inactivity window has ended back
// to operational and clears the end marker.
func (s *Store) EndDueInactivity(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE vehicles
		SET status = 'operational', planned_until = NULL
		WHERE status IN ('under_maintenance', 'out_of_service', 'inactive')
		  AND planned_until IS NOT NULL AND planned_until <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(row rowScanner) (*Vehicle, error) {
	var v Vehicle
	var planned *string
	err := row.Scan(
		&v.ID, &v.Plate, &v.Make, &v.Model, &v.Capacity, &v.Status, &v.LocationID,
		&planned, &v.PlannedFrom, &v.PlannedUntil, &v.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if planned != nil {
		st := Status(*planned)
		v.PlannedStatus = &st
	}
	return &v, nil
}
