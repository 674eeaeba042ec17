package jobs

import (
	"context"
	"log"
	"time"

	"scholaris/console/internal/config"
)

type retentionStore interface {
	DeleteReadOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartRetentionJob periodically deletes read notifications older than the
// configured age. Unread notifications are never swept.
func StartRetentionJob(ctx context.Context, cfg config.Config, store retentionStore) {
	if !cfg.RetentionJobEnabled {
		return
	}
	if store == nil {
		log.Printf("retention job disabled: store not configured")
		return
	}
	interval := cfg.RetentionJobInterval
	if interval <= 0 {
		interval = time.Hour
	}
	maxAge := cfg.RetentionMaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-maxAge)
				tickCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				deleted, err := store.DeleteReadOlderThan(tickCtx, cutoff)
				cancel()
				if err != nil {
					log.Printf("retention job error: %v", err)
					continue
				}
				if deleted > 0 {
					log.Printf("retention job deleted %d notifications", deleted)
				}
			}
		}
	}()
}
