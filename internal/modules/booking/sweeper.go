package booking

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunSweeper reclaims expired holds on a fixed interval until the context
// is cancelled. Meant to run as a single goroutine per process; the sweep
// statement itself is safe to run from several replicas.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	log.Info().
		Dur("interval", s.cfg.SweepInterval).
		Dur("hold_ttl", s.cfg.HoldTTL).
		Msg("hold sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hold sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes every hold older than the TTL and returns the reclaimed
// seats to their trips. One pass, one statement.
func (s *Service) SweepOnce(ctx context.Context) {
	start := time.Now()
	cutoff := s.clock.Now().Add(-s.cfg.HoldTTL)
	reclaimed, err := s.store.Sweep(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("hold sweep failed")
		return
	}
	total := 0
	for tripID, n := range reclaimed {
		total += n
		log.Debug().
			Str("trip_id", string(tripID)).
			Int("seats", n).
			Msg("expired holds reclaimed")
	}
	if total > 0 {
		if s.metrics != nil {
			s.metrics.HoldsExpired.Add(float64(total))
		}
		log.Info().Int("seats", total).Msg("hold sweep reclaimed seats")
	}
	if s.metrics != nil {
		s.metrics.TickDuration.WithLabelValues("sweeper").Observe(time.Since(start).Seconds())
	}
}
