// Package trip owns the trip lifecycle and the vehicle allocation algorithm.
package trip

import (
	"time"

	"github.com/diegopirazabal/docproy/internal/types"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusSalesClosed Status = "sales_closed"
	StatusInProgress  Status = "in_progress"
	StatusFinished    Status = "finished"
	StatusCancelled   Status = "cancelled"
)

type Trip struct {
	ID            types.ID
	VehicleID     types.ID
	OriginID      types.ID
	DestinationID types.ID
	DepartureAt   time.Time
	ArrivalAt     time.Time

	// Capacity is a snapshot of the vehicle capacity at assignment time.
	// AvailableSeats is a cached aggregate kept in lock-step with the
	// ticket ledger inside every mutating transaction.
	Capacity       int
	AvailableSeats int
	SeatsSold      int

	Status     Status
	PriceCents int64
	Currency   string
	CreatedAt  time.Time
}

// AllowedTransitions is the forward trip state flow. Timer-driven
// transitions move left to right; cancellation is an operator action.
var AllowedTransitions = map[Status][]Status{
	StatusScheduled:   {StatusSalesClosed, StatusCancelled},
	StatusSalesClosed: {StatusInProgress, StatusCancelled},
	StatusInProgress:  {StatusFinished},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
