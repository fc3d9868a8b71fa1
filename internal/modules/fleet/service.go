package fleet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/diegopirazabal/docproy/internal/types"
)

var (
	ErrNotFound       = errors.New("vehicle not found")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidState   = errors.New("invalid vehicle state")
	ErrDuplicatePlate = errors.New("plate already registered")
)

type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

type RegisterCommand struct {
	Plate      string
	Make       string
	Model      string
	Capacity   int
	LocationID types.ID
}

type ScheduleInactivityCommand struct {
	VehicleID types.ID
	Target    Status
	From      time.Time
	Until     time.Time
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (types.ID, error) {
	if cmd.Plate == "" || cmd.Capacity <= 0 || cmd.LocationID == "" {
		return "", ErrBadRequest
	}
	v := &Vehicle{
		ID:         newID(),
		Plate:      cmd.Plate,
		Make:       cmd.Make,
		Model:      cmd.Model,
		Capacity:   cmd.Capacity,
		Status:     StatusOperational,
		LocationID: cmd.LocationID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.Create(ctx, v); err != nil {
		return "", err
	}
	return v.ID, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Vehicle, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Vehicle, error) {
	return s.store.List(ctx)
}

// ScheduleInactivity registers a future maintenance/out-of-service window.
// The vehicle must be operational with no pending window; the lifecycle
// scheduler applies and clears the window when its instants pass.
func (s *Service) ScheduleInactivity(ctx context.Context, cmd ScheduleInactivityCommand) error {
	if !InactivityTargets[cmd.Target] {
		return ErrBadRequest
	}
	if cmd.From.IsZero() || cmd.Until.IsZero() || !cmd.From.Before(cmd.Until) {
		return ErrBadRequest
	}
	if _, err := s.store.Get(ctx, cmd.VehicleID); err != nil {
		return err
	}
	ok, err := s.store.ScheduleInactivity(ctx, cmd.VehicleID, cmd.Target, cmd.From, cmd.Until)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidState
	}
	return nil
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
