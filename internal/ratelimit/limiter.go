// Package ratelimit implements per-tenant, per-endpoint fixed-window admission
// control. The decision is a single atomic insert-or-increment in storage, so
// concurrent requests can never under-count.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

// Limiter admits or rejects requests against fixed time windows. Limits are
// read at construction time; a config change takes effect when a new Limiter
// is built, i.e. from the next window onward.
type Limiter struct {
	store        storage.Storage
	window       time.Duration
	retention    time.Duration
	defaultLimit int64
	endpoints    map[string]int64
	logger       *zap.Logger

	now func() time.Time // overridable in tests
}

// NewLimiter creates a Limiter from the rate-limit config.
func NewLimiter(store storage.Storage, cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	retention := time.Duration(cfg.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = 60
	}
	return &Limiter{
		store:        store,
		window:       window,
		retention:    retention,
		defaultLimit: limit,
		endpoints:    cfg.Endpoints,
		logger:       logger,
		now:          time.Now,
	}
}

// Limit returns the ceiling for an endpoint.
func (l *Limiter) Limit(endpoint string) int64 {
	if override, ok := l.endpoints[endpoint]; ok && override > 0 {
		return override
	}
	return l.defaultLimit
}

// Admit counts one request against the tenant's current window and reports
// whether it is within the ceiling. Allowed, Remaining, and RetryAfter all
// derive from the one atomic increment; there is no separate read.
func (l *Limiter) Admit(ctx context.Context, tenantID, endpoint string) (*models.AdmitResult, error) {
	now := l.now().UTC()
	windowStart := now.Truncate(l.window)

	count, err := l.store.IncrementRateWindow(ctx, tenantID, endpoint, windowStart)
	if err != nil {
		return nil, err
	}

	limit := l.Limit(endpoint)
	result := &models.AdmitResult{
		Allowed:     count <= limit,
		Limit:       limit,
		Remaining:   limit - count,
		WindowStart: windowStart,
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if !result.Allowed {
		result.RetryAfter = windowStart.Add(l.window).Sub(now)
		l.logger.Debug("request rejected",
			zap.String("tenant_id", tenantID),
			zap.String("endpoint", endpoint),
			zap.Int64("count", count),
			zap.Int64("limit", limit))
	}
	return result, nil
}

// Purge deletes windows older than the retention horizon. The current window
// is always newer than the horizon and is never touched.
func (l *Limiter) Purge(ctx context.Context) (int64, error) {
	cutoff := l.now().UTC().Add(-l.retention)
	purged, err := l.store.PurgeRateWindows(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		l.logger.Debug("purged rate windows", zap.Int64("count", purged))
	}
	return purged, nil
}

// Window returns the configured window size.
func (l *Limiter) Window() time.Duration {
	return l.window
}
