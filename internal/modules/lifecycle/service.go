// Package lifecycle drives the timer-based trip and vehicle state machines.
// Every pass reads the clock once and applies the transitions in a fixed
// order; the underlying queries only touch rows still in the source state,
// so re-running a pass is a no-op.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/diegopirazabal/docproy/internal/clock"
	"github.com/diegopirazabal/docproy/internal/config"
	"github.com/diegopirazabal/docproy/internal/metrics"
	"github.com/diegopirazabal/docproy/internal/modules/booking"
	"github.com/diegopirazabal/docproy/internal/modules/trip"
	"github.com/diegopirazabal/docproy/internal/notify"
	"github.com/diegopirazabal/docproy/internal/queue"
	"github.com/diegopirazabal/docproy/internal/types"
)

// TripOps is the slice of the trip store the scheduler drives.
type TripOps interface {
	StuckScheduled(ctx context.Context, now time.Time) ([]trip.Trip, error)
	ForceFinish(ctx context.Context, tripID types.ID) error
	CloseSalesDue(ctx context.Context, until time.Time) ([]trip.Trip, error)
	StartDue(ctx context.Context, now time.Time) (int64, error)
	DueToFinish(ctx context.Context, now time.Time) ([]trip.Trip, error)
	Finalize(ctx context.Context, tripID types.ID) error
}

// FleetOps applies scheduled vehicle inactivity windows.
type FleetOps interface {
	BeginDueInactivity(ctx context.Context, now time.Time) (int64, error)
	EndDueInactivity(ctx context.Context, now time.Time) (int64, error)
}

// TicketSource lists the sold tickets of a trip for departure reminders.
type TicketSource interface {
	SoldByTrip(ctx context.Context, tripID types.ID) ([]booking.Ticket, error)
}

// Reminders deduplicates departure reminders across restarts and replicas.
// MarkSent returns true for the first caller per trip.
type Reminders interface {
	MarkSent(ctx context.Context, tripID types.ID) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, e queue.Event) error
}

type Service struct {
	trips     TripOps
	fleet     FleetOps
	tickets   TicketSource
	reminders Reminders
	notifier  notify.Notifier
	events    EventPublisher
	metrics   *metrics.Metrics
	clock     clock.Clock
	cfg       config.SchedulingConfig
}

func NewService(trips TripOps, fleet FleetOps, tickets TicketSource, reminders Reminders, notifier notify.Notifier, events EventPublisher, m *metrics.Metrics, clk clock.Clock, cfg config.SchedulingConfig) *Service {
	return &Service{
		trips:     trips,
		fleet:     fleet,
		tickets:   tickets,
		reminders: reminders,
		notifier:  notifier,
		events:    events,
		metrics:   m,
		clock:     clk,
		cfg:       cfg,
	}
}

// Run ticks until the context is cancelled. Ticks are synchronous: a slow
// pass delays the next one rather than overlapping it.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.LifecycleInterval)
	defer ticker.Stop()
	log.Info().Dur("interval", s.cfg.LifecycleInterval).Msg("lifecycle scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("lifecycle scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce applies one full pass. A failing step is logged and the pass
// moves on; the next tick retries whatever was left behind.
func (s *Service) RunOnce(ctx context.Context) {
	start := time.Now()
	now := s.clock.Now()

	s.reconcileStuck(ctx, now)
	s.closeSales(ctx, now)
	s.startDue(ctx, now)
	s.finishDue(ctx, now)
	s.beginInactivity(ctx, now)
	s.endInactivity(ctx, now)

	if s.metrics != nil {
		s.metrics.TickDuration.WithLabelValues("lifecycle").Observe(time.Since(start).Seconds())
	}
}

// reconcileStuck force-finalizes trips still scheduled past their arrival.
// These should not exist; each one is a missed transition worth flagging.
func (s *Service) reconcileStuck(ctx context.Context, now time.Time) {
	stuck, err := s.trips.StuckScheduled(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("list stuck trips failed")
		return
	}
	for i := range stuck {
		t := &stuck[i]
		log.Warn().
			Str("trip_id", string(t.ID)).
			Time("arrival_at", t.ArrivalAt).
			Msg("trip still scheduled past arrival; force finishing")
		if err := s.trips.ForceFinish(ctx, t.ID); err != nil {
			log.Error().Err(err).Str("trip_id", string(t.ID)).Msg("force finish failed")
			continue
		}
		s.count("force_finish")
		s.publish(ctx, queue.Event{Type: queue.TripFinished, OccurredAt: now, TripID: string(t.ID)})
	}
}

func (s *Service) closeSales(ctx context.Context, now time.Time) {
	closed, err := s.trips.CloseSalesDue(ctx, now.Add(s.cfg.SalesCloseLookahead))
	if err != nil {
		log.Error().Err(err).Msg("close sales failed")
		return
	}
	for i := range closed {
		t := &closed[i]
		s.count("close_sales")
		log.Info().
			Str("trip_id", string(t.ID)).
			Time("departure_at", t.DepartureAt).
			Msg("trip sales closed")
		s.publish(ctx, queue.Event{Type: queue.TripSalesClosed, OccurredAt: now, TripID: string(t.ID)})
		s.sendDepartureReminders(ctx, t)
	}
}

func (s *Service) startDue(ctx context.Context, now time.Time) {
	n, err := s.trips.StartDue(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("start due trips failed")
		return
	}
	if n > 0 {
		s.countN("start", n)
		log.Info().Int64("trips", n).Msg("trips started")
	}
}

func (s *Service) finishDue(ctx context.Context, now time.Time) {
	due, err := s.trips.DueToFinish(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("list due-to-finish trips failed")
		return
	}
	for i := range due {
		t := &due[i]
		if err := s.trips.Finalize(ctx, t.ID); err != nil {
			log.Error().Err(err).Str("trip_id", string(t.ID)).Msg("finalize failed")
			continue
		}
		s.count("finish")
		log.Info().Str("trip_id", string(t.ID)).Msg("trip finished")
		s.publish(ctx, queue.Event{Type: queue.TripFinished, OccurredAt: now, TripID: string(t.ID)})
	}
}

func (s *Service) beginInactivity(ctx context.Context, now time.Time) {
	n, err := s.fleet.BeginDueInactivity(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("begin vehicle inactivity failed")
		return
	}
	if n > 0 {
		s.countN("begin_inactivity", n)
		log.Info().Int64("vehicles", n).Msg("vehicles entered scheduled inactivity")
	}
}

func (s *Service) endInactivity(ctx context.Context, now time.Time) {
	n, err := s.fleet.EndDueInactivity(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("end vehicle inactivity failed")
		return
	}
	if n > 0 {
		s.countN("end_inactivity", n)
		log.Info().Int64("vehicles", n).Msg("vehicles returned to operational")
	}
}

// sendDepartureReminders notifies every sold passenger of the trip once.
// Failures are logged and never affect the state transition that
// triggered them.
func (s *Service) sendDepartureReminders(ctx context.Context, t *trip.Trip) {
	if s.notifier == nil || s.tickets == nil {
		return
	}
	if s.reminders != nil {
		first, err := s.reminders.MarkSent(ctx, t.ID)
		if err != nil {
			log.Error().Err(err).Str("trip_id", string(t.ID)).Msg("reminder dedup check failed")
			return
		}
		if !first {
			return
		}
	}
	tickets, err := s.tickets.SoldByTrip(ctx, t.ID)
	if err != nil {
		log.Error().Err(err).Str("trip_id", string(t.ID)).Msg("list sold tickets failed")
		return
	}
	body := fmt.Sprintf("Your trip departs at %s.", t.DepartureAt.Format(time.RFC3339))
	data := map[string]string{
		"trip_id":      string(t.ID),
		"departure_at": t.DepartureAt.Format(time.RFC3339),
	}
	for i := range tickets {
		p := tickets[i].Passenger
		to := notify.Recipient{
			ID:          string(p.ID),
			Name:        p.Name,
			Email:       p.Email,
			DeviceToken: p.DeviceToken,
		}
		if err := s.notifier.Notify(ctx, to, "Departure reminder", body, data); err != nil {
			log.Warn().Err(err).
				Str("trip_id", string(t.ID)).
				Str("passenger_id", to.ID).
				Msg("departure reminder failed")
		}
	}
}

func (s *Service) count(step string) {
	if s.metrics != nil {
		s.metrics.LifecycleTransitions.WithLabelValues(step).Inc()
	}
}

func (s *Service) countN(step string, n int64) {
	if s.metrics != nil {
		s.metrics.LifecycleTransitions.WithLabelValues(step).Add(float64(n))
	}
}

func (s *Service) publish(ctx context.Context, e queue.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("type", e.Type).Msg("event publish failed")
	}
}
