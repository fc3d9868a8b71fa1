// Package booking is the seat ledger: holds, purchases, confirmations,
// refunds, and the expiry sweeper that reclaims stale holds.
package booking

import (
	"time"

	"github.com/diegopirazabal/docproy/internal/modules/pricing"
	"github.com/diegopirazabal/docproy/internal/types"
)

type Status string

const (
	StatusHeld      Status = "held"
	StatusSold      Status = "sold"
	StatusCancelled Status = "cancelled"
	StatusConsumed  Status = "consumed"
)

// Passenger is the narrow holder snapshot stored on each ticket: identity
// plus the attributes the discount policy and the notifier need. The full
// account lives in the external identity service.
type Passenger struct {
	ID          types.ID
	Name        string
	Email       string
	DeviceToken string
	Category    pricing.Category
}

type Ticket struct {
	ID         types.ID
	TripID     types.ID
	SeatNumber int
	Passenger  Passenger
	PriceCents int64
	Currency   string
	Status     Status

	// HeldAt is set only while the ticket is held; cleared on confirmation.
	HeldAt     *time.Time
	CaptureRef *string
	RefundRef  *string
	CreatedAt  time.Time
}

// TripInfo is the slice of the trip row the reservation manager reads.
type TripInfo struct {
	ID             types.ID
	Status         string
	Capacity       int
	AvailableSeats int
	PriceCents     int64
	Currency       string
	DepartureAt    time.Time
}
