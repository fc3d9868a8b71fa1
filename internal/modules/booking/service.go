package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/diegopirazabal/docproy/internal/clock"
	"github.com/diegopirazabal/docproy/internal/config"
	"github.com/diegopirazabal/docproy/internal/metrics"
	"github.com/diegopirazabal/docproy/internal/modules/pricing"
	"github.com/diegopirazabal/docproy/internal/notify"
	"github.com/diegopirazabal/docproy/internal/payment"
	"github.com/diegopirazabal/docproy/internal/queue"
	"github.com/diegopirazabal/docproy/internal/types"
)

var (
	ErrBadRequest          = errors.New("bad request")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid ticket state")
	ErrSeatUnavailable     = errors.New("seat unavailable")
	ErrHoldLimitExceeded   = errors.New("hold limit exceeded")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrOwnershipMismatch   = errors.New("reservation belongs to another passenger")
	ErrRefundWindowClosed  = errors.New("refund window closed")
)

// EventPublisher is the slice of the queue publisher the service needs.
type EventPublisher interface {
	Publish(ctx context.Context, e queue.Event) error
}

type Service struct {
	store    *Store
	pricing  *pricing.Service
	payments payment.Provider
	events   EventPublisher
	notifier notify.Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	cfg      config.SchedulingConfig
}

func NewService(store *Store, pr *pricing.Service, payments payment.Provider, events EventPublisher, notifier notify.Notifier, m *metrics.Metrics, clk clock.Clock, cfg config.SchedulingConfig) *Service {
	return &Service{
		store:    store,
		pricing:  pr,
		payments: payments,
		events:   events,
		notifier: notifier,
		metrics:  m,
		clock:    clk,
		cfg:      cfg,
	}
}

type HoldCommand struct {
	TripID      types.ID
	Passenger   Passenger
	SeatNumbers []int
}

type PurchaseCommand struct {
	TripID     types.ID
	Passenger  Passenger
	SeatNumber int
}

type ConfirmCommand struct {
	TripID      types.ID
	PassengerID types.ID
	SeatNumbers []int
}

type RefundCommand struct {
	TicketID types.ID
	// PassengerID restricts the refund to the ticket owner when set;
	// operator calls leave it empty.
	PassengerID types.ID
}

// HoldSeats places a TTL-bounded claim on a batch of seats. All-or-nothing:
// if any seat is taken the whole batch fails naming the conflicting seat.
func (s *Service) HoldSeats(ctx context.Context, cmd HoldCommand) ([]Ticket, error) {
	if cmd.TripID == "" || cmd.Passenger.ID == "" || len(cmd.SeatNumbers) == 0 {
		return nil, ErrBadRequest
	}
	if hasDuplicates(cmd.SeatNumbers) {
		return nil, ErrBadRequest
	}
	info, err := s.store.TripInfo(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if err := validateSeatRange(cmd.SeatNumbers, info.Capacity); err != nil {
		return nil, err
	}

	price := s.pricing.FinalPrice(info.PriceCents, cmd.Passenger.Category)
	now := s.clock.Now()
	tickets := make([]Ticket, len(cmd.SeatNumbers))
	for i, seat := range cmd.SeatNumbers {
		heldAt := now
		tickets[i] = Ticket{
			ID:         newID(),
			TripID:     cmd.TripID,
			SeatNumber: seat,
			Passenger:  cmd.Passenger,
			PriceCents: price,
			Currency:   info.Currency,
			Status:     StatusHeld,
			HeldAt:     &heldAt,
			CreatedAt:  now,
		}
	}
	if err := s.store.CreateHeld(ctx, tickets, s.cfg.HoldCap); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SeatsHeld.Add(float64(len(tickets)))
	}
	log.Info().
		Str("trip_id", string(cmd.TripID)).
		Str("passenger_id", string(cmd.Passenger.ID)).
		Ints("seats", cmd.SeatNumbers).
		Msg("seats held")
	return tickets, nil
}

// Purchase is the immediate single-seat path: capture first, then write the
// sold record. If the write loses the seat race the capture is compensated.
func (s *Service) Purchase(ctx context.Context, cmd PurchaseCommand) (*Ticket, error) {
	if cmd.TripID == "" || cmd.Passenger.ID == "" {
		return nil, ErrBadRequest
	}
	info, err := s.store.TripInfo(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if err := validateSeatRange([]int{cmd.SeatNumber}, info.Capacity); err != nil {
		return nil, err
	}
	if info.Status != "scheduled" {
		return nil, ErrInvalidState
	}

	price := s.pricing.FinalPrice(info.PriceCents, cmd.Passenger.Category)
	captureRef, err := s.payments.Capture(ctx, price, info.Currency)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	t := &Ticket{
		ID:         newID(),
		TripID:     cmd.TripID,
		SeatNumber: cmd.SeatNumber,
		Passenger:  cmd.Passenger,
		PriceCents: price,
		Currency:   info.Currency,
		Status:     StatusSold,
		CaptureRef: &captureRef,
		CreatedAt:  now,
	}
	if err := s.store.CreateSold(ctx, t); err != nil {
		s.compensateCapture(ctx, captureRef, price, info.Currency)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SeatsSold.Inc()
	}
	s.publish(ctx, queue.Event{
		Type:        queue.TicketSold,
		OccurredAt:  now,
		TripID:      string(t.TripID),
		TicketID:    string(t.ID),
		PassengerID: string(t.Passenger.ID),
		SeatNumber:  t.SeatNumber,
		AmountCents: t.PriceCents,
		Currency:    t.Currency,
	})
	s.notifyAsync(ctx, t.Passenger, "Purchase confirmed",
		fmt.Sprintf("Seat %d is yours. Departure %s.", t.SeatNumber, info.DepartureAt.Format(time.RFC3339)),
		map[string]string{"trip_id": string(t.TripID), "ticket_id": string(t.ID)})
	return t, nil
}

// ConfirmHolds captures payment for the passenger's held seats and promotes
// them to sold. A hold that expired between the quote and the confirming
// transaction fails cleanly and the capture is compensated.
func (s *Service) ConfirmHolds(ctx context.Context, cmd ConfirmCommand) ([]Ticket, error) {
	if cmd.TripID == "" || cmd.PassengerID == "" || len(cmd.SeatNumbers) == 0 {
		return nil, ErrBadRequest
	}
	if hasDuplicates(cmd.SeatNumbers) {
		return nil, ErrBadRequest
	}
	info, err := s.store.TripInfo(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}

	total, err := s.store.QuoteHolds(ctx, cmd.TripID, cmd.PassengerID, cmd.SeatNumbers)
	if err != nil {
		return nil, err
	}
	captureRef, err := s.payments.Capture(ctx, total, info.Currency)
	if err != nil {
		return nil, err
	}

	tickets, err := s.store.ConfirmHolds(ctx, cmd.TripID, cmd.PassengerID, cmd.SeatNumbers, captureRef)
	if err != nil {
		s.compensateCapture(ctx, captureRef, total, info.Currency)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SeatsSold.Add(float64(len(tickets)))
	}
	now := s.clock.Now()
	for i := range tickets {
		s.publish(ctx, queue.Event{
			Type:        queue.TicketSold,
			OccurredAt:  now,
			TripID:      string(tickets[i].TripID),
			TicketID:    string(tickets[i].ID),
			PassengerID: string(tickets[i].Passenger.ID),
			SeatNumber:  tickets[i].SeatNumber,
			AmountCents: tickets[i].PriceCents,
			Currency:    tickets[i].Currency,
		})
	}
	if len(tickets) > 0 {
		s.notifyAsync(ctx, tickets[0].Passenger, "Purchase confirmed",
			fmt.Sprintf("%d seat(s) confirmed. Departure %s.", len(tickets), info.DepartureAt.Format(time.RFC3339)),
			map[string]string{"trip_id": string(cmd.TripID)})
	}
	return tickets, nil
}

// Refund cancels a sold seat, charging the penalty. The provider refund
// must succeed before any state changes; if it does, the seat returns to
// the pool.
func (s *Service) Refund(ctx context.Context, cmd RefundCommand) (int64, error) {
	if cmd.TicketID == "" {
		return 0, ErrBadRequest
	}
	t, err := s.store.Get(ctx, cmd.TicketID)
	if err != nil {
		return 0, err
	}
	if cmd.PassengerID != "" && t.Passenger.ID != cmd.PassengerID {
		return 0, ErrOwnershipMismatch
	}
	if t.Status != StatusSold || t.CaptureRef == nil {
		return 0, ErrInvalidState
	}

	info, err := s.store.TripInfo(ctx, t.TripID)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	if !withinNotice(now, info.DepartureAt, s.cfg.RefundNotice) {
		return 0, ErrRefundWindowClosed
	}

	amount := refundAmount(t.PriceCents, s.cfg.RefundPenaltyPct)
	refundRef, err := s.payments.Refund(ctx, *t.CaptureRef, amount, t.Currency)
	if err != nil {
		return 0, err
	}
	if err := s.store.MarkRefunded(ctx, t.ID, refundRef); err != nil {
		// The money left but the ticket did not flip. Needs manual
		// reconciliation; surface loudly.
		log.Error().Err(err).
			Str("ticket_id", string(t.ID)).
			Str("refund_ref", refundRef).
			Msg("refund succeeded but ticket not cancelled")
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.SeatsRefunded.Inc()
	}
	s.publish(ctx, queue.Event{
		Type:        queue.TicketRefunded,
		OccurredAt:  now,
		TripID:      string(t.TripID),
		TicketID:    string(t.ID),
		PassengerID: string(t.Passenger.ID),
		SeatNumber:  t.SeatNumber,
		AmountCents: amount,
		Currency:    t.Currency,
	})
	s.notifyAsync(ctx, t.Passenger, "Refund processed",
		fmt.Sprintf("Seat %d refunded. You will receive %s %.2f.", t.SeatNumber, t.Currency, float64(amount)/100),
		map[string]string{"trip_id": string(t.TripID), "ticket_id": string(t.ID)})
	log.Info().
		Str("ticket_id", string(t.ID)).
		Int64("amount_cents", amount).
		Msg("seat refunded")
	return amount, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Ticket, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) OccupiedSeats(ctx context.Context, tripID types.ID) ([]int, error) {
	return s.store.OccupiedSeats(ctx, tripID)
}

func (s *Service) HistoryByPassenger(ctx context.Context, passengerID types.ID) ([]Ticket, error) {
	return s.store.HistoryByPassenger(ctx, passengerID)
}

func (s *Service) ListByTrip(ctx context.Context, tripID types.ID, f ListFilter) ([]Ticket, error) {
	return s.store.ListByTrip(ctx, tripID, f)
}

func (s *Service) publish(ctx context.Context, e queue.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("type", e.Type).Msg("event publish failed")
	}
}

// notifyAsync fires the notification without blocking the caller's response.
func (s *Service) notifyAsync(ctx context.Context, p Passenger, title, body string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	to := notify.Recipient{
		ID:          string(p.ID),
		Name:        p.Name,
		Email:       p.Email,
		DeviceToken: p.DeviceToken,
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.notifier.Notify(ctx, to, title, body, data); err != nil {
			log.Warn().Err(err).Str("passenger_id", to.ID).Msg("notification failed")
		}
	}()
}

func (s *Service) compensateCapture(ctx context.Context, captureRef string, amount int64, currency string) {
	if _, err := s.payments.Refund(ctx, captureRef, amount, currency); err != nil {
		log.Error().Err(err).
			Str("capture_ref", captureRef).
			Msg("compensating refund failed; capture needs manual reconciliation")
	}
}

func validateSeatRange(seats []int, capacity int) error {
	for _, n := range seats {
		if n < 1 || n > capacity {
			return ErrBadRequest
		}
	}
	return nil
}

func hasDuplicates(seats []int) bool {
	seen := map[int]bool{}
	for _, n := range seats {
		if seen[n] {
			return true
		}
		seen[n] = true
	}
	return false
}

// refundAmount charges the penalty, rounding in the operator's favour.
func refundAmount(priceCents int64, penaltyPct float64) int64 {
	penalty := int64(float64(priceCents) * penaltyPct)
	return priceCents - penalty
}

// withinNotice reports whether a refund requested now still respects the
// minimum notice before departure.
func withinNotice(now, departure time.Time, notice time.Duration) bool {
	return !now.Add(notice).After(departure)
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
