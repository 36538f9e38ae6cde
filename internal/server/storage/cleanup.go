package storage

import (
	"context"
	"log/slog"
	"time"

	"imghost/internal/server/database"
)

// ExpiredSource lists and removes image records whose links have lapsed.
type ExpiredSource interface {
	GetExpired(ctx context.Context, now time.Time) ([]*database.Image, error)
	Delete(ctx context.Context, id string) error
}

// WindowPruner drops stale rate-limit windows.
type WindowPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupService periodically removes expired images from both the
// database and storage, and prunes stale rate-limit windows.
type CleanupService struct {
	repo     ExpiredSource
	store    Store
	pruner   WindowPruner
	window   time.Duration
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service. pruner may be nil.
func NewCleanupService(repo ExpiredSource, store Store, pruner WindowPruner, window, interval time.Duration) *CleanupService {
	return &CleanupService{
		repo:     repo,
		store:    store,
		pruner:   pruner,
		window:   window,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	now := cs.now()

	if cs.pruner != nil && cs.window > 0 {
		if n, err := cs.pruner.Prune(ctx, now.Add(-cs.window)); err != nil {
			slog.Error("failed to prune rate limit windows", "error", err)
		} else if n > 0 {
			slog.Info("pruned rate limit windows", "count", n)
		}
	}

	expired, err := cs.repo.GetExpired(ctx, now)
	if err != nil {
		slog.Error("failed to get expired images", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	var cleaned, failed int
	for _, img := range expired {
		// Files first, best effort; the record goes even if some are already gone.
		if err := cs.store.Delete(ctx, img.Paths()...); err != nil {
			slog.Error("failed to delete image files", "id", img.ID, "error", err)
		}

		if err := cs.repo.Delete(ctx, img.ID); err != nil {
			slog.Error("failed to delete image record", "id", img.ID, "error", err)
			failed++
			continue
		}

		cleaned++
		slog.Info("cleaned up expired image",
			"id", img.ID,
			"stored_name", img.StoredName,
			"expired_at", img.ExpiresAt,
		)
	}

	slog.Info("cleanup cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"total_expired", len(expired),
	)
}
