package trip

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/diegopirazabal/docproy/internal/clock"
	"github.com/diegopirazabal/docproy/internal/config"
	"github.com/diegopirazabal/docproy/internal/metrics"
	"github.com/diegopirazabal/docproy/internal/modules/place"
	"github.com/diegopirazabal/docproy/internal/types"
)

var (
	ErrBadRequest           = errors.New("bad request")
	ErrNotFound             = errors.New("trip not found")
	ErrInvalidState         = errors.New("invalid trip state")
	ErrConflict             = errors.New("trip window conflict")
	ErrNoVehicleAvailable   = errors.New("no vehicle available")
	ErrInsufficientCapacity = errors.New("insufficient vehicle capacity")
)

// Places is the narrow view of the place registry the allocator needs.
type Places interface {
	Get(ctx context.Context, id types.ID) (*place.Place, error)
}

type Service struct {
	store   *Store
	places  Places
	clock   clock.Clock
	metrics *metrics.Metrics
	buffers Buffers
}

func NewService(store *Store, places Places, clk clock.Clock, m *metrics.Metrics, cfg config.SchedulingConfig) *Service {
	return &Service{
		store:   store,
		places:  places,
		clock:   clk,
		metrics: m,
		buffers: Buffers{
			Turnaround:    cfg.TurnaroundBuffer,
			SameLocation:  cfg.SameLocationBuffer,
			CrossLocation: cfg.CrossLocationBuffer,
		},
	}
}

type AssignCommand struct {
	OriginID      types.ID
	DestinationID types.ID
	DepartureAt   time.Time
	ArrivalAt     time.Time
	PriceCents    int64
	Currency      string
}

type ReassignCommand struct {
	TripID       types.ID
	NewVehicleID types.ID
}

// Assign picks the first feasible vehicle and creates the trip. The
// candidate search and the commit happen in one unit of work; a rejected
// request mutates nothing.
func (s *Service) Assign(ctx context.Context, cmd AssignCommand) (*Trip, error) {
	if cmd.OriginID == "" || cmd.DestinationID == "" || cmd.OriginID == cmd.DestinationID {
		return nil, ErrBadRequest
	}
	if !cmd.DepartureAt.Before(cmd.ArrivalAt) {
		return nil, ErrBadRequest
	}
	if cmd.PriceCents <= 0 {
		return nil, ErrBadRequest
	}
	now := s.clock.Now()
	if !cmd.DepartureAt.After(now) {
		return nil, ErrBadRequest
	}
	for _, id := range []types.ID{cmd.OriginID, cmd.DestinationID} {
		if _, err := s.places.Get(ctx, id); err != nil {
			if errors.Is(err, place.ErrNotFound) {
				return nil, ErrBadRequest
			}
			return nil, err
		}
	}

	currency := cmd.Currency
	if currency == "" {
		currency = "UYU"
	}
	t := &Trip{
		ID:            newID(),
		OriginID:      cmd.OriginID,
		DestinationID: cmd.DestinationID,
		DepartureAt:   cmd.DepartureAt,
		ArrivalAt:     cmd.ArrivalAt,
		PriceCents:    cmd.PriceCents,
		Currency:      currency,
		CreatedAt:     now,
	}
	if err := s.store.Allocate(ctx, t, s.buffers); err != nil {
		if errors.Is(err, ErrNoVehicleAvailable) && s.metrics != nil {
			s.metrics.AllocationFailed.Inc()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TripsAssigned.Inc()
	}
	log.Info().
		Str("trip_id", string(t.ID)).
		Str("vehicle_id", string(t.VehicleID)).
		Time("departure_at", t.DepartureAt).
		Msg("trip assigned")
	return t, nil
}

func (s *Service) Reassign(ctx context.Context, cmd ReassignCommand) (*Trip, error) {
	if cmd.TripID == "" || cmd.NewVehicleID == "" {
		return nil, ErrBadRequest
	}
	t, err := s.store.Reassign(ctx, cmd.TripID, cmd.NewVehicleID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("trip_id", string(t.ID)).
		Str("vehicle_id", string(t.VehicleID)).
		Msg("trip reassigned")
	return t, nil
}

func (s *Service) Finalize(ctx context.Context, id types.ID) error {
	return s.store.Finalize(ctx, id)
}

func (s *Service) Cancel(ctx context.Context, id types.ID) error {
	if err := s.store.Cancel(ctx, id); err != nil {
		return err
	}
	log.Info().Str("trip_id", string(id)).Msg("trip cancelled")
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Search(ctx context.Context, f SearchFilter) ([]Trip, error) {
	return s.store.Search(ctx, f)
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
