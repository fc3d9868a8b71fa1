package booking

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegopirazabal/docproy/internal/clock"
	"github.com/diegopirazabal/docproy/internal/config"
	"github.com/diegopirazabal/docproy/internal/modules/fleet"
	"github.com/diegopirazabal/docproy/internal/modules/place"
	"github.com/diegopirazabal/docproy/internal/modules/pricing"
	"github.com/diegopirazabal/docproy/internal/modules/trip"
	"github.com/diegopirazabal/docproy/internal/payment"
	"github.com/diegopirazabal/docproy/internal/types"
)

func TestHoldAndConfirm(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1001", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)
	p := passenger("p1", pricing.CategoryRegular)

	held, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p, SeatNumbers: []int{1, 2}})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if len(held) != 2 {
		t.Fatalf("expected 2 held tickets, got %d", len(held))
	}
	for _, h := range held {
		if h.Status != StatusHeld || h.HeldAt == nil || h.PriceCents != 10000 {
			t.Fatalf("unexpected held ticket: %+v", h)
		}
	}
	env.assertAvailable(t, tr.ID, 38, 0)

	sold, err := env.svc.ConfirmHolds(ctx, ConfirmCommand{TripID: tr.ID, PassengerID: p.ID, SeatNumbers: []int{1, 2}})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(sold) != 2 {
		t.Fatalf("expected 2 sold tickets, got %d", len(sold))
	}
	for _, s := range sold {
		if s.Status != StatusSold || s.CaptureRef == nil {
			t.Fatalf("unexpected sold ticket: %+v", s)
		}
	}
	if env.pay.captures != 1 || env.pay.lastAmount != 20000 {
		t.Fatalf("expected one capture of 20000, got %d of %d", env.pay.captures, env.pay.lastAmount)
	}
	env.assertAvailable(t, tr.ID, 38, 2)
}

func TestHoldConflicts(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1002", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)
	p1 := passenger("p1", pricing.CategoryRegular)
	p2 := passenger("p2", pricing.CategoryRegular)

	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p1, SeatNumbers: []int{1}}); err != nil {
		t.Fatalf("hold: %v", err)
	}

	// Same seat, different passenger.
	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p2, SeatNumbers: []int{1}}); !errors.Is(err, ErrSeatUnavailable) {
		t.Fatalf("expected ErrSeatUnavailable, got %v", err)
	}

	// A batch with one taken seat fails whole and leaves nothing behind.
	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p2, SeatNumbers: []int{2, 1}}); !errors.Is(err, ErrSeatUnavailable) {
		t.Fatalf("expected ErrSeatUnavailable for batch, got %v", err)
	}
	env.assertAvailable(t, tr.ID, 39, 0)
}

func TestHoldCap(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1003", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)
	p := passenger("p1", pricing.CategoryRegular)

	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p, SeatNumbers: []int{1, 2, 3, 4}}); err != nil {
		t.Fatalf("hold up to cap: %v", err)
	}
	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p, SeatNumbers: []int{5}}); !errors.Is(err, ErrHoldLimitExceeded) {
		t.Fatalf("expected ErrHoldLimitExceeded, got %v", err)
	}

	// A single batch over the cap fails for another passenger too.
	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: passenger("p2", pricing.CategoryRegular), SeatNumbers: []int{10, 11, 12, 13, 14}}); !errors.Is(err, ErrHoldLimitExceeded) {
		t.Fatalf("expected ErrHoldLimitExceeded for oversized batch, got %v", err)
	}
}

func TestHoldValidation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1004", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)
	p := passenger("p1", pricing.CategoryRegular)

	cases := []struct {
		name  string
		seats []int
	}{
		{"no seats", nil},
		{"duplicate seats", []int{3, 3}},
		{"seat zero", []int{0}},
		{"seat beyond capacity", []int{41}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p, SeatNumbers: tc.seats}); !errors.Is(err, ErrBadRequest) {
				t.Fatalf("expected ErrBadRequest, got %v", err)
			}
		})
	}
}

func TestPurchaseAndRefund(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1005", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)
	p := passenger("p1", pricing.CategoryStudent)

	ticket, err := env.svc.Purchase(ctx, PurchaseCommand{TripID: tr.ID, Passenger: p, SeatNumber: 3})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if ticket.PriceCents != 8000 {
		t.Fatalf("expected discounted price 8000, got %d", ticket.PriceCents)
	}
	if ticket.Status != StatusSold || ticket.CaptureRef == nil {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	env.assertAvailable(t, tr.ID, 39, 1)

	amount, err := env.svc.Refund(ctx, RefundCommand{TicketID: ticket.ID, PassengerID: p.ID})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if amount != 7200 {
		t.Fatalf("expected refund of 7200, got %d", amount)
	}
	got, err := env.svc.Get(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled || got.RefundRef == nil {
		t.Fatalf("expected cancelled with refund ref, got %+v", got)
	}
	env.assertAvailable(t, tr.ID, 40, 0)

	// A cancelled ticket cannot be refunded again.
	if _, err := env.svc.Refund(ctx, RefundCommand{TicketID: ticket.ID}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double refund, got %v", err)
	}
}

func TestRefundWindowClosed(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// Departure is only ten hours away; the 24h notice has passed.
	tr := env.mustTrip(t, "SAB1006", 40, day(10, 0), day(14, 0), 10000)
	p := passenger("p1", pricing.CategoryRegular)

	ticket, err := env.svc.Purchase(ctx, PurchaseCommand{TripID: tr.ID, Passenger: p, SeatNumber: 1})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := env.svc.Refund(ctx, RefundCommand{TicketID: ticket.ID}); !errors.Is(err, ErrRefundWindowClosed) {
		t.Fatalf("expected ErrRefundWindowClosed, got %v", err)
	}
}

func TestRefundOwnership(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1007", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)

	ticket, err := env.svc.Purchase(ctx, PurchaseCommand{TripID: tr.ID, Passenger: passenger("p1", pricing.CategoryRegular), SeatNumber: 1})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := env.svc.Refund(ctx, RefundCommand{TicketID: ticket.ID, PassengerID: "p2"}); !errors.Is(err, ErrOwnershipMismatch) {
		t.Fatalf("expected ErrOwnershipMismatch, got %v", err)
	}
}

func TestPurchaseDeclined(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1008", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)

	env.pay.declineNext = true
	if _, err := env.svc.Purchase(ctx, PurchaseCommand{TripID: tr.ID, Passenger: passenger("p1", pricing.CategoryRegular), SeatNumber: 1}); !errors.Is(err, payment.ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	env.assertAvailable(t, tr.ID, 40, 0)
}

func TestSweepExpiredHolds(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1009", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)
	p := passenger("p1", pricing.CategoryRegular)

	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p, SeatNumbers: []int{1, 2}}); err != nil {
		t.Fatalf("hold: %v", err)
	}
	env.assertAvailable(t, tr.ID, 38, 0)

	// One minute past the TTL the sweeper returns both seats.
	env.clk.Advance(11 * time.Minute)
	env.svc.SweepOnce(ctx)
	env.assertAvailable(t, tr.ID, 40, 0)

	// The stale confirmation fails before any money moves.
	if _, err := env.svc.ConfirmHolds(ctx, ConfirmCommand{TripID: tr.ID, PassengerID: p.ID, SeatNumbers: []int{1, 2}}); !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
	if env.pay.captures != 0 {
		t.Fatalf("expected no captures, got %d", env.pay.captures)
	}

	// The freed seats can be held again.
	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p, SeatNumbers: []int{1, 2}}); err != nil {
		t.Fatalf("re-hold after sweep: %v", err)
	}
}

func TestConcurrentHoldsLastSeat(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1010", 1, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := passenger(fmt.Sprintf("p%d", i), pricing.CategoryRegular)
			_, errs[i] = env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p, SeatNumbers: []int{1}})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrSeatUnavailable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful hold, got %d", succeeded)
	}
	env.assertAvailable(t, tr.ID, 0, 0)
}

func TestHistoryByPassenger(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	tr := env.mustTrip(t, "SAB1011", 40, day(10, 0).AddDate(0, 0, 2), day(14, 0).AddDate(0, 0, 2), 10000)
	p := passenger("p1", pricing.CategoryRegular)

	if _, err := env.svc.Purchase(ctx, PurchaseCommand{TripID: tr.ID, Passenger: p, SeatNumber: 1}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := env.svc.HoldSeats(ctx, HoldCommand{TripID: tr.ID, Passenger: p, SeatNumbers: []int{2}}); err != nil {
		t.Fatalf("hold: %v", err)
	}

	history, err := env.svc.HistoryByPassenger(ctx, p.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 tickets in history, got %d", len(history))
	}

	occupied, err := env.svc.OccupiedSeats(ctx, tr.ID)
	if err != nil {
		t.Fatalf("occupied seats: %v", err)
	}
	if len(occupied) != 2 || occupied[0] != 1 || occupied[1] != 2 {
		t.Fatalf("expected seats [1 2], got %v", occupied)
	}
}

type fakeProvider struct {
	mu          sync.Mutex
	captures    int
	lastAmount  int64
	refunds     []string
	declineNext bool
}

func (p *fakeProvider) Capture(_ context.Context, amountCents int64, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declineNext {
		p.declineNext = false
		return "", payment.ErrDeclined
	}
	p.captures++
	p.lastAmount = amountCents
	return fmt.Sprintf("cap-%d", p.captures), nil
}

func (p *fakeProvider) Refund(_ context.Context, captureRef string, _ int64, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, captureRef)
	return "ref-" + captureRef, nil
}

type testEnv struct {
	svc   *Service
	trips *trip.Service
	fleet *fleet.Service
	clk   *clock.Fixed
	pay   *fakeProvider

	origin      types.ID
	destination types.ID
}

func (e *testEnv) mustTrip(t *testing.T, plate string, capacity int, departure, arrival time.Time, priceCents int64) *trip.Trip {
	t.Helper()
	ctx := context.Background()
	if _, err := e.fleet.Register(ctx, fleet.RegisterCommand{
		Plate:      plate,
		Capacity:   capacity,
		LocationID: e.origin,
	}); err != nil {
		t.Fatalf("register vehicle %s: %v", plate, err)
	}
	out, err := e.trips.Assign(ctx, trip.AssignCommand{
		OriginID:      e.origin,
		DestinationID: e.destination,
		DepartureAt:   departure,
		ArrivalAt:     arrival,
		PriceCents:    priceCents,
	})
	if err != nil {
		t.Fatalf("assign trip: %v", err)
	}
	return out
}

func (e *testEnv) assertAvailable(t *testing.T, tripID types.ID, available, sold int) {
	t.Helper()
	got, err := e.trips.Get(context.Background(), tripID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if got.AvailableSeats != available || got.SeatsSold != sold {
		t.Fatalf("expected available=%d sold=%d, got available=%d sold=%d",
			available, sold, got.AvailableSeats, got.SeatsSold)
	}
}

func passenger(id string, category pricing.Category) Passenger {
	return Passenger{
		ID:       types.ID(id),
		Name:     "Ana Perez",
		Email:    id + "@example.com",
		Category: category,
	}
}

func day(h, m int) time.Time {
	return time.Date(2026, 9, 15, h, m, 0, 0, time.UTC)
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	ctx := context.Background()

	cfg := config.SchedulingConfig{
		HoldTTL:             10 * time.Minute,
		TurnaroundBuffer:    30 * time.Minute,
		SameLocationBuffer:  2 * time.Hour,
		CrossLocationBuffer: 12 * time.Hour,
		RefundNotice:        24 * time.Hour,
		RefundPenaltyPct:    0.10,
		HoldCap:             4,
		SweepInterval:       time.Minute,
	}
	clk := &clock.Fixed{Instant: day(0, 0)}
	pay := &fakeProvider{}

	placeStore := place.NewStore(db)
	placeSvc := place.NewService(placeStore)
	fleetSvc := fleet.NewService(fleet.NewStore(db))
	tripSvc := trip.NewService(trip.NewStore(db), placeStore, clk, nil, cfg)
	store := NewStore(db)
	svc := NewService(store, pricing.NewService(), pay, nil, nil, nil, clk, cfg)

	origin, err := placeSvc.Create(ctx, place.CreateCommand{Name: "Montevideo"})
	if err != nil {
		t.Fatalf("create origin: %v", err)
	}
	destination, err := placeSvc.Create(ctx, place.CreateCommand{Name: "Salto"})
	if err != nil {
		t.Fatalf("create destination: %v", err)
	}

	return &testEnv{
		svc:         svc,
		trips:       tripSvc,
		fleet:       fleetSvc,
		clk:         clk,
		pay:         pay,
		origin:      origin,
		destination: destination,
	}
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DOCPROY_TEST_DSN")
	if dsn == "" {
		t.Skip("DOCPROY_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE tickets, trips, vehicles, places"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	cleaned := stripSQLComments(string(content))
	for _, stmt := range splitSQL(cleaned) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
