package upload

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically reclaims sessions whose inactivity timer elapsed. It
// sweeps in batches on a fixed period, so a session may outlive its deadline
// by up to one interval.
type Sweeper struct {
	registry *Registry
	interval time.Duration
}

// NewSweeper creates a sweeper for registry running every interval.
func NewSweeper(registry *Registry, interval time.Duration) *Sweeper {
	return &Sweeper{registry: registry, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Debug().Dur("interval", s.interval).Msg("pending uploads expiration task starts")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("pending uploads expiration task stopped")
			return nil
		case tick := <-ticker.C:
			expired := s.SweepOnce()
			if expired > 0 {
				log.Info().Int("count", expired).Time("at", tick).Msg("pending uploads expired")
			}
		}
	}
}

// SweepOnce runs one sweep and returns the number of reclaimed sessions. File
// deletion happens after the registry lock has been released.
func (s *Sweeper) SweepOnce() int {
	expired := s.registry.Expire(s.registry.now())
	for _, p := range expired {
		log.Debug().Str("token", p.Token.String()).Str("path", p.Path).Msg("upload expired")
		if err := p.cancelExpired(); err != nil {
			log.Error().Err(err).Str("token", p.Token.String()).Msg("failed to remove a stale file")
		}
	}
	return len(expired)
}
