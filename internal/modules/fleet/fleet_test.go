package fleet

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diegopirazabal/docproy/internal/modules/place"
	"github.com/diegopirazabal/docproy/internal/types"
)

func TestRegister(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	id, err := env.svc.Register(ctx, RegisterCommand{
		Plate: "SAB1234", Make: "Volvo", Model: "9700", Capacity: 40, LocationID: env.location,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	v, err := env.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Status != StatusOperational || v.Capacity != 40 || v.LocationID != env.location {
		t.Fatalf("unexpected vehicle: %+v", v)
	}
	if v.PlannedStatus != nil || v.PlannedFrom != nil || v.PlannedUntil != nil {
		t.Fatalf("fresh vehicle should carry no pending window: %+v", v)
	}

	if _, err := env.svc.Register(ctx, RegisterCommand{
		Plate: "SAB1234", Capacity: 30, LocationID: env.location,
	}); !errors.Is(err, ErrDuplicatePlate) {
		t.Fatalf("expected ErrDuplicatePlate, got %v", err)
	}
	if _, err := env.svc.Register(ctx, RegisterCommand{
		Plate: "SAB0000", Capacity: 0, LocationID: env.location,
	}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for zero capacity, got %v", err)
	}
}

func TestScheduleInactivityGuards(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	id := env.mustRegister(t, "SAB2222", 40)

	cases := []struct {
		name string
		cmd  ScheduleInactivityCommand
		want error
	}{
		{"operational is not a valid target", ScheduleInactivityCommand{VehicleID: id, Target: StatusOperational, From: day(10, 0), Until: day(12, 0)}, ErrBadRequest},
		{"window ends before it starts", ScheduleInactivityCommand{VehicleID: id, Target: StatusUnderMaintenance, From: day(12, 0), Until: day(10, 0)}, ErrBadRequest},
		{"missing instants", ScheduleInactivityCommand{VehicleID: id, Target: StatusUnderMaintenance}, ErrBadRequest},
		{"unknown vehicle", ScheduleInactivityCommand{VehicleID: "nope", Target: StatusUnderMaintenance, From: day(10, 0), Until: day(12, 0)}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := env.svc.ScheduleInactivity(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// A pending window blocks a second one.
	if err := env.svc.ScheduleInactivity(ctx, ScheduleInactivityCommand{
		VehicleID: id, Target: StatusUnderMaintenance, From: day(10, 0), Until: day(12, 0),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := env.svc.ScheduleInactivity(ctx, ScheduleInactivityCommand{
		VehicleID: id, Target: StatusOutOfService, From: day(14, 0), Until: day(16, 0),
	}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for second window, got %v", err)
	}

	// A vehicle out on a trip cannot be scheduled either.
	busy := env.mustRegister(t, "SAB3333", 40)
	if _, err := env.db.Exec(ctx, `
		UPDATE vehicles SET status = 'assigned_to_trip' WHERE id = $1`, string(busy)); err != nil {
		t.Fatalf("seed status: %v", err)
	}
	if err := env.svc.ScheduleInactivity(ctx, ScheduleInactivityCommand{
		VehicleID: busy, Target: StatusUnderMaintenance, From: day(10, 0), Until: day(12, 0),
	}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for assigned vehicle, got %v", err)
	}
}

func TestInactivityWindowLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	id := env.mustRegister(t, "SAB4444", 40)
	if err := env.svc.ScheduleInactivity(ctx, ScheduleInactivityCommand{
		VehicleID: id, Target: StatusUnderMaintenance, From: day(10, 0), Until: day(18, 0),
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Before the window starts nothing moves.
	if n, err := env.store.BeginDueInactivity(ctx, day(9, 0)); err != nil || n != 0 {
		t.Fatalf("expected no vehicles due, got n=%d err=%v", n, err)
	}

	// At the start the vehicle flips and only the start marker clears.
	if n, err := env.store.BeginDueInactivity(ctx, day(10, 0)); err != nil || n != 1 {
		t.Fatalf("expected 1 vehicle to begin, got n=%d err=%v", n, err)
	}
	v, err := env.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Status != StatusUnderMaintenance {
		t.Fatalf("expected under_maintenance, got %s", v.Status)
	}
	if v.PlannedStatus != nil || v.PlannedFrom != nil {
		t.Fatalf("start markers should be cleared: %+v", v)
	}
	if v.PlannedUntil == nil || !v.PlannedUntil.Equal(day(18, 0)) {
		t.Fatalf("end marker should survive until the window ends: %+v", v)
	}

	// Rerunning the begin pass is a no-op.
	if n, err := env.store.BeginDueInactivity(ctx, day(11, 0)); err != nil || n != 0 {
		t.Fatalf("begin pass should be idempotent, got n=%d err=%v", n, err)
	}

	// Before the window ends nothing reverts.
	if n, err := env.store.EndDueInactivity(ctx, day(17, 0)); err != nil || n != 0 {
		t.Fatalf("expected no vehicles to end, got n=%d err=%v", n, err)
	}

	// At the end the vehicle returns to operational with the marker gone.
	if n, err := env.store.EndDueInactivity(ctx, day(18, 0)); err != nil || n != 1 {
		t.Fatalf("expected 1 vehicle to end, got n=%d err=%v", n, err)
	}
	v, err = env.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Status != StatusOperational || v.PlannedUntil != nil {
		t.Fatalf("expected operational with no markers, got %+v", v)
	}

	// With the window consumed a new one can be scheduled.
	if err := env.svc.ScheduleInactivity(ctx, ScheduleInactivityCommand{
		VehicleID: id, Target: StatusOutOfService, From: day(20, 0), Until: day(22, 0),
	}); err != nil {
		t.Fatalf("schedule after window: %v", err)
	}
}

type testEnv struct {
	svc      *Service
	store    *Store
	db       *pgxpool.Pool
	location types.ID
}

func (e *testEnv) mustRegister(t *testing.T, plate string, capacity int) types.ID {
	t.Helper()
	id, err := e.svc.Register(context.Background(), RegisterCommand{
		Plate:      plate,
		Capacity:   capacity,
		LocationID: e.location,
	})
	if err != nil {
		t.Fatalf("register vehicle %s: %v", plate, err)
	}
	return id
}

func day(h, m int) time.Time {
	return time.Date(2026, 9, 15, h, m, 0, 0, time.UTC)
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	ctx := context.Background()

	store := NewStore(db)
	location, err := place.NewService(place.NewStore(db)).Create(ctx, place.CreateCommand{Name: "Montevideo"})
	if err != nil {
		t.Fatalf("create place: %v", err)
	}
	return &testEnv{
		svc:      NewService(store),
		store:    store,
		db:       db,
		location: location,
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
