package trip

import (
	"time"

	"github.com/diegopirazabal/docproy/internal/modules/fleet"
	"github.com/diegopirazabal/docproy/internal/types"
)

// Buffers are the minimum idle times the allocator enforces around an
// existing trip on the same vehicle.
type Buffers struct {
	// Turnaround is the operational-readiness gap required between a prior
	// trip's arrival and the new departure.
	Turnaround time.Duration
	// SameLocation applies before a later trip departing from where the
	// new trip ends; CrossLocation applies when the vehicle must relocate.
	SameLocation  time.Duration
	CrossLocation time.Duration
}

// Window is one active trip on a candidate's calendar.
type Window struct {
	DepartureAt   time.Time
	ArrivalAt     time.Time
	OriginID      types.ID
	DestinationID types.ID
}

// Candidate pairs a vehicle with its active trips, sorted by departure.
type Candidate struct {
	Vehicle fleet.Vehicle
	Windows []Window
}

// Request is the trip being allocated.
type Request struct {
	OriginID      types.ID
	DestinationID types.ID
	DepartureAt   time.Time
	ArrivalAt     time.Time
}

// pickVehicle returns the first candidate, in registry order, that passes
// every feasibility check. There is no cost or utilisation optimisation.
func pickVehicle(candidates []Candidate, req Request, b Buffers) (*fleet.Vehicle, bool) {
	for i := range candidates {
		if feasible(candidates[i], req, b) {
			return &candidates[i].Vehicle, true
		}
	}
	return nil, false
}

func feasible(c Candidate, req Request, b Buffers) bool {
	for _, w := range c.Windows {
		if w.DepartureAt.Before(req.ArrivalAt) && w.ArrivalAt.After(req.DepartureAt) {
			return false
		}
	}

	prev := lastEndingBy(c.Windows, req.DepartureAt)
	projected := c.Vehicle.LocationID
	if prev != nil {
		projected = prev.DestinationID
	}
	if projected != req.OriginID {
		return false
	}

	if prev != nil && prev.ArrivalAt.Add(b.Turnaround).After(req.DepartureAt) {
		return false
	}

	if next := firstStartingAfter(c.Windows, req.ArrivalAt); next != nil {
		buffer := b.CrossLocation
		if req.DestinationID == next.OriginID {
			buffer = b.SameLocation
		}
		if req.ArrivalAt.Add(buffer).After(next.DepartureAt) {
			return false
		}
	}
	return true
}

// lastEndingBy returns the most recent window concluding at or before t.
func lastEndingBy(ws []Window, t time.Time) *Window {
	var out *Window
	for i := range ws {
		if !ws[i].ArrivalAt.After(t) {
			if out == nil || ws[i].ArrivalAt.After(out.ArrivalAt) {
				out = &ws[i]
			}
		}
	}
	return out
}

// firstStartingAfter returns the earliest window departing at or after t,
// so a back-to-back next trip is still held to the buffer.
func firstStartingAfter(ws []Window, t time.Time) *Window {
	var out *Window
	for i := range ws {
		if !ws[i].DepartureAt.Before(t) {
			if out == nil || ws[i].DepartureAt.Before(out.DepartureAt) {
				out = &ws[i]
			}
		}
	}
	return out
}
