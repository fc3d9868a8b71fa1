package trip

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegopirazabal/docproy/internal/modules/fleet"
	"github.com/diegopirazabal/docproy/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const tripColumns = `id, vehicle_id, origin_id, destination_id, departure_at, arrival_at,
	capacity, available_seats, seats_sold, status, price_cents, currency, created_at`

// A sales-closed trip still occupies its window, so it blocks the
// vehicle's calendar like any other unfinished trip.
var activeStatusStrings = []string{string(StatusScheduled), string(StatusSalesClosed), string(StatusInProgress)}

// Allocate runs the full allocation inside one transaction: it locks the
// candidate vehicles, evaluates feasibility in registry order, and commits
// the new trip together with the vehicle state change. Concurrent
// allocations serialize on the vehicle row locks. On rejection nothing is
// mutated.
func (s *Store) Allocate(ctx context.Context, t *Trip, b Buffers) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	candidates, err := loadCandidates(ctx, tx)
	if err != nil {
		return err
	}

	req := Request{
		OriginID:      t.OriginID,
		DestinationID: t.DestinationID,
		DepartureAt:   t.DepartureAt,
		ArrivalAt:     t.ArrivalAt,
	}
	vehicle, ok := pickVehicle(candidates, req, b)
	if !ok {
		return ErrNoVehicleAvailable
	}

	t.VehicleID = vehicle.ID
	t.Capacity = vehicle.Capacity
	t.AvailableSeats = vehicle.Capacity
	t.SeatsSold = 0
	t.Status = StatusScheduled

	_, err = tx.Exec(ctx, `
		INSERT INTO trips (id, vehicle_id, origin_id, destination_id, departure_at, arrival_at,
			capacity, available_seats, seats_sold, status, price_cents, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(t.ID), string(t.VehicleID), string(t.OriginID), string(t.DestinationID),
		t.DepartureAt, t.ArrivalAt, t.Capacity, t.AvailableSeats, t.SeatsSold,
		string(t.Status), t.PriceCents, t.Currency, t.CreatedAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE vehicles SET status = 'assigned_to_trip' WHERE id = $1`, string(vehicle.ID))
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// loadCandidates locks every vehicle not parked in an inactivity state and
// loads their active trip calendars. A vehicle already assigned stays a
// candidate; the feasibility checks decide whether its calendar fits.
func loadCandidates(ctx context.Context, tx pgx.Tx) ([]Candidate, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, capacity, status, location_id
		FROM vehicles
		WHERE status IN ('operational', 'assigned_to_trip')
		ORDER BY created_at, id
		FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Candidate
	index := map[types.ID]int{}
	for rows.Next() {
		var v fleet.Vehicle
		if err := rows.Scan(&v.ID, &v.Capacity, &v.Status, &v.LocationID); err != nil {
			return nil, err
		}
		index[v.ID] = len(candidates)
		candidates = append(candidates, Candidate{Vehicle: v})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	windowRows, err := tx.Query(ctx, `
		SELECT vehicle_id, departure_at, arrival_at, origin_id, destination_id
		FROM trips
		WHERE status = ANY($1)
		ORDER BY departure_at`, activeStatusStrings)
	if err != nil {
		return nil, err
	}
	defer windowRows.Close()

	for windowRows.Next() {
		var vehicleID types.ID
		var w Window
		if err := windowRows.Scan(&vehicleID, &w.DepartureAt, &w.ArrivalAt, &w.OriginID, &w.DestinationID); err != nil {
			return nil, err
		}
		if i, ok := index[vehicleID]; ok {
			candidates[i].Windows = append(candidates[i].Windows, w)
		}
	}
	return candidates, windowRows.Err()
}

// Reassign swaps the trip onto a different vehicle while still scheduled.
func (s *Store) Reassign(ctx context.Context, tripID, newVehicleID types.ID) (*Trip, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := getForUpdate(ctx, tx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusScheduled {
		return nil, ErrInvalidState
	}
	if t.VehicleID == newVehicleID {
		return nil, ErrBadRequest
	}

	// Lock both vehicle rows in a stable order to avoid deadlocks between
	// concurrent reassignments.
	for _, id := range orderedPair(t.VehicleID, newVehicleID) {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM vehicles WHERE id = $1 FOR UPDATE`, string(id)); err != nil {
			return nil, err
		}
	}

	var capacity int
	var status, locationID string
	err = tx.QueryRow(ctx, `
		SELECT capacity, status, location_id FROM vehicles WHERE id = $1`,
		string(newVehicleID)).Scan(&capacity, &status, &locationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if fleet.Status(status) != fleet.StatusOperational || types.ID(locationID) != t.OriginID {
		return nil, ErrInvalidState
	}

	// Live tickets (held + sold) still occupy seats on the new vehicle, so
	// the capacity guard counts both; held seats may yet be confirmed.
	var live int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE trip_id = $1 AND status IN ('held', 'sold')`,
		string(tripID)).Scan(&live)
	if err != nil {
		return nil, err
	}
	if capacity < live {
		return nil, ErrInsufficientCapacity
	}

	var overlaps bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trips
			WHERE vehicle_id = $1 AND id <> $2 AND status = ANY($3)
			  AND departure_at < $4 AND arrival_at > $5
		)`, string(newVehicleID), string(tripID), activeStatusStrings, t.ArrivalAt, t.DepartureAt,
	).Scan(&overlaps)
	if err != nil {
		return nil, err
	}
	if overlaps {
		return nil, ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		UPDATE vehicles SET status = 'operational' WHERE id = $1`, string(t.VehicleID)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE vehicles SET status = 'assigned_to_trip' WHERE id = $1`, string(newVehicleID)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE trips SET vehicle_id = $1, capacity = $2, available_seats = $3 WHERE id = $4`,
		string(newVehicleID), capacity, capacity-live, string(tripID)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	t.VehicleID = newVehicleID
	t.Capacity = capacity
	t.AvailableSeats = capacity - live
	return t, nil
}

// Finalize moves an in-progress trip to finished and releases the vehicle
// at the destination. Already-finished trips are a no-op.
func (s *Store) Finalize(ctx context.Context, tripID types.ID) error {
	return s.finish(ctx, tripID, StatusInProgress)
}

// ForceFinish finalizes a trip stuck in scheduled past its arrival. Used
// only by the lifecycle reconciliation pass.
func (s *Store) ForceFinish(ctx context.Context, tripID types.ID) error {
	return s.finish(ctx, tripID, StatusScheduled)
}

func (s *Store) finish(ctx context.Context, tripID types.ID, from Status) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	t, err := getForUpdate(ctx, tx, tripID)
	if err != nil {
		return err
	}
	if t.Status == StatusFinished {
		return nil
	}
	if t.Status != from {
		return ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `
		UPDATE trips SET status = 'finished' WHERE id = $1`, string(tripID)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE vehicles SET status = 'operational', location_id = $1 WHERE id = $2`,
		string(t.DestinationID), string(t.VehicleID)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cancel is the operator action: valid from scheduled or sales-closed,
// releases the vehicle without moving it.
func (s *Store) Cancel(ctx context.Context, tripID types.ID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	t, err := getForUpdate(ctx, tx, tripID)
	if err != nil {
		return err
	}
	if !CanTransition(t.Status, StatusCancelled) {
		return ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `
		UPDATE trips SET status = 'cancelled' WHERE id = $1`, string(tripID)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE vehicles SET status = 'operational' WHERE id = $1 AND status = 'assigned_to_trip'`,
		string(t.VehicleID)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	return scanTrip(row)
}

// SearchFilter narrows the trip listing. Zero values mean "any".
type SearchFilter struct {
	OriginID      types.ID
	DestinationID types.ID
	From          time.Time
	To            time.Time
	Status        Status
	MinAvailable  int
}

func (s *Store) Search(ctx context.Context, f SearchFilter) ([]Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.OriginID != "" {
		query += ` AND origin_id = ` + arg(string(f.OriginID))
	}
	if f.DestinationID != "" {
		query += ` AND destination_id = ` + arg(string(f.DestinationID))
	}
	if !f.From.IsZero() {
		query += ` AND departure_at >= ` + arg(f.From)
	}
	if !f.To.IsZero() {
		query += ` AND departure_at <= ` + arg(f.To)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if f.MinAvailable > 0 {
		query += ` AND available_seats >= ` + arg(f.MinAvailable)
	}
	query += ` ORDER BY departure_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// StuckScheduled returns trips still scheduled whose arrival has passed.
func (s *Store) StuckScheduled(ctx context.Context, now time.Time) ([]Trip, error) {
	return s.listByPredicate(ctx, `status = 'scheduled' AND arrival_at <= $1`, now)
}

// CloseSalesDue closes sales for every scheduled trip departing at or
// before the lookahead limit, returning the affected trips.
func (s *Store) CloseSalesDue(ctx context.Context, until time.Time) ([]Trip, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE trips SET status = 'sales_closed'
		WHERE status = 'scheduled' AND departure_at <= $1
		RETURNING `+tripColumns, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// StartDue moves sales-closed trips past their departure into in-progress.
func (s *Store) StartDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips SET status = 'in_progress'
		WHERE status = 'sales_closed' AND departure_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DueToFinish returns in-progress trips whose arrival has passed.
func (s *Store) DueToFinish(ctx context.Context, now time.Time) ([]Trip, error) {
	return s.listByPredicate(ctx, `status = 'in_progress' AND arrival_at <= $1`, now)
}

func (s *Store) listByPredicate(ctx context.Context, predicate string, args ...any) ([]Trip, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tripColumns+` FROM trips WHERE `+predicate+` ORDER BY departure_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func getForUpdate(ctx context.Context, tx pgx.Tx, id types.ID) (*Trip, error) {
	row := tx.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1 FOR UPDATE`, string(id))
	return scanTrip(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*Trip, error) {
	var t Trip
	err := row.Scan(
		&t.ID, &t.VehicleID, &t.OriginID, &t.DestinationID, &t.DepartureAt, &t.ArrivalAt,
		&t.Capacity, &t.AvailableSeats, &t.SeatsSold, &t.Status, &t.PriceCents, &t.Currency, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func orderedPair(a, b types.ID) [2]types.ID {
	if string(a) < string(b) {
		return [2]types.ID{a, b}
	}
	return [2]types.ID{b, a}
}
