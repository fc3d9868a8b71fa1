// Package queue publishes domain events to RabbitMQ for downstream consumers
// (reporting, e-mail workers). Publishing is best-effort: callers log failures
// and move on.
package queue

import "time"

const (
	TicketSold      = "ticket.sold"
	TicketRefunded  = "ticket.refunded"
	TripSalesClosed = "trip.sales_closed"
	TripFinished    = "trip.finished"
)

type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	TripID      string `json:"trip_id,omitempty"`
	TicketID    string `json:"ticket_id,omitempty"`
	PassengerID string `json:"passenger_id,omitempty"`
	SeatNumber  int    `json:"seat_number,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
}
