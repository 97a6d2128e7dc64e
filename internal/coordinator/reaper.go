package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically writes the explicit EXPIRED transition for orders
// past their deadline. Read paths already filter on deadline, so the reaper
// is a persistence-hygiene pass, not a correctness requirement.
type Reaper struct {
	store Store
	log   *zap.Logger
}

// NewReaper creates a reaper over the given store.
func NewReaper(store Store, log *zap.Logger) *Reaper {
	return &Reaper{store: store, log: log}
}

// Run expires overdue orders at the given interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := r.store.ExpireOverdue(ctx, time.Now().Unix())
			if err != nil {
				r.log.Error("failed to expire overdue orders", zap.Error(err))
				continue
			}
			if expired > 0 {
				r.log.Info("expired overdue orders", zap.Int64("count", expired))
			}
		}
	}
}
