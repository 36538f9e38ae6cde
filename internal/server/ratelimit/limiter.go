// Package ratelimit implements per-client fixed-window admission control
// for upload batches.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "imghost_rate_limit_decisions_total",
		Help: "Admission decisions for upload batches.",
	},
	[]string{"decision"},
)

// WindowStore atomically records a hit against a client's window and
// reports the resulting count and whether the hit was admitted. A denied
// hit must not change the stored count.
type WindowStore interface {
	Hit(ctx context.Context, clientID string, now time.Time, window time.Duration, limit int) (int, bool, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
}

// Options configures a Limiter.
type Options struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Limiter admits at most MaxRequests per client per window. When the
// backing store fails the request is admitted.
type Limiter struct {
	store  WindowStore
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

func New(store WindowStore, opts Options) *Limiter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store:  store,
		opts:   opts,
		now:    now,
		logger: slog.Default().With("component", "ratelimit"),
	}
}

// Allow records one request for clientID and decides its admission.
func (l *Limiter) Allow(ctx context.Context, clientID string) Decision {
	if !l.opts.Enabled {
		return Decision{Allowed: true, Remaining: -1}
	}
	if clientID == "" {
		clientID = "unknown"
	}

	count, ok, err := l.store.Hit(ctx, clientID, l.now(), l.opts.Window, l.opts.MaxRequests)
	if err != nil {
		l.logger.Error("rate limit store failed, allowing request", "client", clientID, "error", err)
		decisionsTotal.WithLabelValues("error").Inc()
		return Decision{Allowed: true, Remaining: -1}
	}
	if !ok {
		l.logger.Warn("rate limit exceeded", "client", clientID)
		decisionsTotal.WithLabelValues("denied").Inc()
		return Decision{Allowed: false}
	}

	decisionsTotal.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true, Remaining: max(l.opts.MaxRequests-count, 0)}
}
