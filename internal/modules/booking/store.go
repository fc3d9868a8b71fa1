package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegopirazabal/docproy/internal/modules/pricing"
	"github.com/diegopirazabal/docproy/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const ticketColumns = `id, trip_id, seat_number, passenger_id, passenger_name, passenger_email,
	device_token, category, price_cents, currency, status, held_at, capture_ref, refund_ref, created_at`

// liveStatuses occupy a seat. A cancelled row never blocks the seat again.
const liveStatuses = `'held', 'sold', 'consumed'`

// TripInfo reads the trip fields the reservation manager validates against.
func (s *Store) TripInfo(ctx context.Context, tripID types.ID) (*TripInfo, error) {
	return tripInfo(ctx, s.db, tripID, false)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tripInfo(ctx context.Context, q queryRower, tripID types.ID, forUpdate bool) (*TripInfo, error) {
	query := `SELECT id, status, capacity, available_seats, price_cents, currency, departure_at
		FROM trips WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var info TripInfo
	err := q.QueryRow(ctx, query, string(tripID)).Scan(
		&info.ID, &info.Status, &info.Capacity, &info.AvailableSeats,
		&info.PriceCents, &info.Currency, &info.DepartureAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateHeld writes the whole hold batch atomically. The trip row lock
// serializes every seat mutation for the trip; the partial unique index on
// (trip_id, seat_number) is the final authority if anything slips through.
func (s *Store) CreateHeld(ctx context.Context, tickets []Ticket, holdCap int) error {
	if len(tickets) == 0 {
		return ErrBadRequest
	}
	tripID := tickets[0].TripID
	passengerID := tickets[0].Passenger.ID

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	info, err := tripInfo(ctx, tx, tripID, true)
	if err != nil {
		return err
	}
	if info.Status != "scheduled" {
		return ErrInvalidState
	}
	if info.AvailableSeats < len(tickets) {
		return ErrSeatUnavailable
	}

	var heldCount int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE trip_id = $1 AND passenger_id = $2 AND status = 'held'`,
		string(tripID), string(passengerID)).Scan(&heldCount)
	if err != nil {
		return err
	}
	if heldCount+len(tickets) > holdCap {
		return ErrHoldLimitExceeded
	}

	seats := make([]int, len(tickets))
	for i := range tickets {
		seats[i] = tickets[i].SeatNumber
	}
	if seat, taken, err := firstTakenSeat(ctx, tx, tripID, seats); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("%w: seat %d", ErrSeatUnavailable, seat)
	}

	for i := range tickets {
		if err := insertTicket(ctx, tx, &tickets[i]); err != nil {
			return err
		}
	}
	if err := adjustAvailable(ctx, tx, tripID, -len(tickets), 0); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateSold writes a direct purchase: one seat, immediately sold.
func (s *Store) CreateSold(ctx context.Context, t *Ticket) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	info, err := tripInfo(ctx, tx, t.TripID, true)
	if err != nil {
		return err
	}
	if info.Status != "scheduled" {
		return ErrInvalidState
	}
	if info.AvailableSeats < 1 {
		return ErrSeatUnavailable
	}
	if seat, taken, err := firstTakenSeat(ctx, tx, t.TripID, []int{t.SeatNumber}); err != nil {
		return err
	} else if taken {
		return fmt.Errorf("%w: seat %d", ErrSeatUnavailable, seat)
	}

	if err := insertTicket(ctx, tx, t); err != nil {
		return err
	}
	if err := adjustAvailable(ctx, tx, t.TripID, -1, 1); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// QuoteHolds resolves the passenger's held tickets for the given seats and
// returns their total price. Used to capture payment before confirmation;
// the confirming transaction re-validates everything under lock.
func (s *Store) QuoteHolds(ctx context.Context, tripID types.ID, passengerID types.ID, seats []int) (int64, error) {
	live, err := s.liveBySeat(ctx, tripID, seats)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, seat := range seats {
		t, ok := live[seat]
		if !ok || t.Status != StatusHeld {
			return 0, fmt.Errorf("%w: seat %d", ErrReservationNotFound, seat)
		}
		if t.Passenger.ID != passengerID {
			return 0, fmt.Errorf("%w: seat %d", ErrOwnershipMismatch, seat)
		}
		total += t.PriceCents
	}
	return total, nil
}

// ConfirmHolds promotes the passenger's held seats to sold, attaching the
// capture reference. The available counter was already decremented at hold
// time, so only seats_sold moves.
func (s *Store) ConfirmHolds(ctx context.Context, tripID types.ID, passengerID types.ID, seats []int, captureRef string) ([]Ticket, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tripInfo(ctx, tx, tripID, true); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE trip_id = $1 AND seat_number = ANY($2) AND status IN (`+liveStatuses+`)
		FOR UPDATE`, string(tripID), seats)
	if err != nil {
		return nil, err
	}
	live := map[int]*Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		live[t.SeatNumber] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	out := make([]Ticket, 0, len(seats))
	ids := make([]string, 0, len(seats))
	for _, seat := range seats {
		t, ok := live[seat]
		if !ok || t.Status != StatusHeld {
			return nil, fmt.Errorf("%w: seat %d", ErrReservationNotFound, seat)
		}
		if t.Passenger.ID != passengerID {
			return nil, fmt.Errorf("%w: seat %d", ErrOwnershipMismatch, seat)
		}
		ids = append(ids, string(t.ID))
		t.Status = StatusSold
		t.HeldAt = nil
		ref := captureRef
		t.CaptureRef = &ref
		out = append(out, *t)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE tickets SET status = 'sold', held_at = NULL, capture_ref = $1
		WHERE id = ANY($2) AND status = 'held'`, captureRef, ids)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return nil, ErrReservationNotFound
	}
	if _, err := tx.Exec(ctx, `
		UPDATE trips SET seats_sold = seats_sold + $1 WHERE id = $2`,
		len(ids), string(tripID)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRefunded cancels a sold ticket and returns its seat to the pool. The
// guard on status catches a concurrent refund of the same ticket.
func (s *Store) MarkRefunded(ctx context.Context, ticketID types.ID, refundRef string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tripID string
	err = tx.QueryRow(ctx, `
		UPDATE tickets SET status = 'cancelled', refund_ref = $1
		WHERE id = $2 AND status = 'sold'
		RETURNING trip_id`, refundRef, string(ticketID)).Scan(&tripID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvalidState
	}
	if err != nil {
		return err
	}
	if err := adjustAvailable(ctx, tx, types.ID(tripID), 1, -1); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Sweep deletes every hold past the cutoff and returns the reclaimed seats
// to their trips, all in one statement so an overlapping confirmation
// cannot double-count a seat.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (map[types.ID]int, error) {
	rows, err := s.db.Query(ctx, `
		WITH expired AS (
			DELETE FROM tickets
			WHERE status = 'held' AND held_at <= $1
			RETURNING trip_id
		), per_trip AS (
			SELECT trip_id, COUNT(*) AS reclaimed FROM expired GROUP BY trip_id
		)
		UPDATE trips t
		SET available_seats = t.available_seats + p.reclaimed
		FROM per_trip p
		WHERE t.id = p.trip_id
		RETURNING t.id, p.reclaimed`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reclaimed := map[types.ID]int{}
	for rows.Next() {
		var tripID string
		var n int
		if err := rows.Scan(&tripID, &n); err != nil {
			return nil, err
		}
		reclaimed[types.ID(tripID)] = n
	}
	return reclaimed, rows.Err()
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Ticket, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, string(id))
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// OccupiedSeats returns the live seat numbers for a trip, sorted.
func (s *Store) OccupiedSeats(ctx context.Context, tripID types.ID) ([]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seat_number FROM tickets
		WHERE trip_id = $1 AND status IN (`+liveStatuses+`)
		ORDER BY seat_number`, string(tripID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) HistoryByPassenger(ctx context.Context, passengerID types.ID) ([]Ticket, error) {
	return s.list(ctx, `passenger_id = $1 ORDER BY created_at DESC`, string(passengerID))
}

// ListFilter narrows ListByTrip for operator tooling. Zero values mean "any".
type ListFilter struct {
	PassengerID types.ID
	SeatNumber  int
	Status      Status
}

func (s *Store) ListByTrip(ctx context.Context, tripID types.ID, f ListFilter) ([]Ticket, error) {
	predicate := `trip_id = $1`
	args := []any{string(tripID)}
	if f.PassengerID != "" {
		args = append(args, string(f.PassengerID))
		predicate += fmt.Sprintf(` AND passenger_id = $%d`, len(args))
	}
	if f.SeatNumber > 0 {
		args = append(args, f.SeatNumber)
		predicate += fmt.Sprintf(` AND seat_number = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		predicate += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	return s.list(ctx, predicate+` ORDER BY seat_number, created_at`, args...)
}

// SoldByTrip returns the sold tickets for a trip (departure reminders).
func (s *Store) SoldByTrip(ctx context.Context, tripID types.ID) ([]Ticket, error) {
	return s.list(ctx, `trip_id = $1 AND status = 'sold' ORDER BY seat_number`, string(tripID))
}

func (s *Store) list(ctx context.Context, predicate string, args ...any) ([]Ticket, error) {
	rows, err := s.db.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE `+predicate, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) liveBySeat(ctx context.Context, tripID types.ID, seats []int) (map[int]*Ticket, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE trip_id = $1 AND seat_number = ANY($2) AND status IN (`+liveStatuses+`)`,
		string(tripID), seats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]*Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out[t.SeatNumber] = t
	}
	return out, rows.Err()
}

func firstTakenSeat(ctx context.Context, tx pgx.Tx, tripID types.ID, seats []int) (int, bool, error) {
	var seat int
	err := tx.QueryRow(ctx, `
		SELECT seat_number FROM tickets
		WHERE trip_id = $1 AND seat_number = ANY($2) AND status IN (`+liveStatuses+`)
		ORDER BY seat_number
		LIMIT 1`, string(tripID), seats).Scan(&seat)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return seat, true, nil
}

func insertTicket(ctx context.Context, tx pgx.Tx, t *Ticket) error {
	var deviceToken *string
	if t.Passenger.DeviceToken != "" {
		deviceToken = &t.Passenger.DeviceToken
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO tickets (id, trip_id, seat_number, passenger_id, passenger_name, passenger_email,
			device_token, category, price_cents, currency, status, held_at, capture_ref, refund_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		string(t.ID), string(t.TripID), t.SeatNumber,
		string(t.Passenger.ID), t.Passenger.Name, t.Passenger.Email,
		deviceToken, string(t.Passenger.Category),
		t.PriceCents, t.Currency, string(t.Status), t.HeldAt, t.CaptureRef, t.RefundRef, t.CreatedAt,
	)
	return err
}

// adjustAvailable moves the cached trip aggregates. The availability guard
// keeps the counter from ever going negative.
func adjustAvailable(ctx context.Context, tx pgx.Tx, tripID types.ID, availableDelta, soldDelta int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET available_seats = available_seats + $1, seats_sold = seats_sold + $2
		WHERE id = $3 AND available_seats + $1 >= 0`,
		availableDelta, soldDelta, string(tripID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrSeatUnavailable
	}
	return nil
}

func scanTicket(row interface{ Scan(dest ...any) error }) (*Ticket, error) {
	var t Ticket
	var deviceToken *string
	var category string
	err := row.Scan(
		&t.ID, &t.TripID, &t.SeatNumber,
		&t.Passenger.ID, &t.Passenger.Name, &t.Passenger.Email,
		&deviceToken, &category,
		&t.PriceCents, &t.Currency, &t.Status, &t.HeldAt, &t.CaptureRef, &t.RefundRef, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deviceToken != nil {
		t.Passenger.DeviceToken = *deviceToken
	}
	t.Passenger.Category = pricing.ParseCategory(category)
	return &t, nil
}
