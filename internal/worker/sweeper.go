// Package worker runs background jobs. ExpirySweeper downgrades premium
// subscriptions whose paid period has ended so the stored tier matches what
// admission already enforces.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Expirer is the job the sweeper runs; services.SubscriptionService
// implements it.
type Expirer interface {
	ExpireLapsed(ctx context.Context) (int64, error)
}

// Locker gates a sweep across replicas. A nil Locker means every replica
// sweeps, which is harmless because the downgrade is idempotent.
type Locker interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// ExpirySweeper calls Expirer on a fixed interval.
type ExpirySweeper struct {
	Expirer  Expirer
	Locker   Locker
	Interval time.Duration
}

// NewExpirySweeper builds a sweeper. locker may be nil.
func NewExpirySweeper(e Expirer, locker Locker, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{Expirer: e, Locker: locker, Interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		log.Info().Msg("expiry sweeper disabled")
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	log.Info().Dur("interval", s.Interval).Msg("expiry sweeper started")

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. ran is false when another replica holds
// the lock or the sweep failed.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (downgraded int64, ran bool) {
	if s.Locker != nil {
		release, ok, err := s.Locker.TryAcquire(ctx)
		if err != nil {
			log.Error().Err(err).Msg("expiry sweep lock")
			return 0, false
		}
		if !ok {
			log.Debug().Msg("expiry sweep held by another replica")
			return 0, false
		}
		defer release()
	}

	n, err := s.Expirer.ExpireLapsed(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expiry sweep")
		return 0, false
	}
	if n > 0 {
		log.Info().Int64("downgraded", n).Msg("expired premium subscriptions")
	}
	return n, true
}
