// Package place is the registry of locations trips run between.
package place

import (
	"time"

	"github.com/diegopirazabal/docproy/internal/types"
)

type Place struct {
	ID        types.ID
	Name      string
	CreatedAt time.Time
}
