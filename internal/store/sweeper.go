package store

import (
	"context"
	"time"

	"turn.careers/internal/obs"
)

// Sweeper purges consumed and expired records outside the verification hot
// path. Expiry is still enforced lazily at verification time; the sweep only
// bounds storage growth.
type Sweeper struct {
	store    Store
	interval time.Duration
	now      func() time.Time
}

// NewSweeper builds a Sweeper with the given interval (min 1 second).
func NewSweeper(s Store, interval time.Duration) *Sweeper {
	if interval < time.Second {
		interval = time.Second
	}
	return &Sweeper{store: s, interval: interval, now: time.Now}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one purge pass and returns the number of records removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.now().UTC()
	total := 0

	if n, err := s.store.Codes().PurgeExpired(ctx, now); err == nil {
		total += n
	} else {
		obs.Logger().Warn("sweep codes", "error", err)
	}
	if n, err := s.store.Verifications().PurgeExpired(ctx, now); err == nil {
		total += n
	} else {
		obs.Logger().Warn("sweep verification tokens", "error", err)
	}
	if n, err := s.store.RefreshTokens().PurgeExpired(ctx, now); err == nil {
		total += n
	} else {
		obs.Logger().Warn("sweep refresh tokens", "error", err)
	}
	if n, err := s.store.DenyList().Prune(ctx, now); err == nil {
		total += n
	} else {
		obs.Logger().Warn("prune deny-list", "error", err)
	}

	if total > 0 {
		obs.Logger().Debug("sweep completed", "removed", total)
	}
	return total
}
