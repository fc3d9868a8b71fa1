// Package fleet is the vehicle registry: operating state, current location,
// and pending scheduled-inactivity windows.
package fleet

import (
	"time"

	"github.com/diegopirazabal/docproy/internal/types"
)

type Status string

const (
	StatusOperational      Status = "operational"
	StatusUnderMaintenance Status = "under_maintenance"
	StatusOutOfService     Status = "out_of_service"
	StatusAssignedToTrip   Status = "assigned_to_trip"
	StatusInactive         Status = "inactive"
)

// InactivityTargets are the states an operator may schedule a vehicle into.
var InactivityTargets = map[Status]bool{
	StatusUnderMaintenance: true,
	StatusOutOfService:     true,
	StatusInactive:         true,
}

type Vehicle struct {
	ID         types.ID
	Plate      string
	Make       string
	Model      string
	Capacity   int
	Status     Status
	LocationID types.ID

	// Pending scheduled state change. At most one window may be pending:
	// PlannedStatus/PlannedFrom are cleared when the window begins,
	// PlannedUntil when it ends.
	PlannedStatus *Status
	PlannedFrom   *time.Time
	PlannedUntil  *time.Time

	CreatedAt time.Time
}
