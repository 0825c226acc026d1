package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/liliang-cn/waktusolat-mcp/pkg/cache"
)

const idleMaintenanceAfter = 60 * time.Second

// CacheMaintainer is the part of the cache the health loop works with.
type CacheMaintainer interface {
	Purge() int
	Stats() cache.CacheStats
}

// HealthMonitor periodically logs liveness and performs housekeeping:
// expired cache entries are purged and idle rate-limit buckets dropped.
type HealthMonitor struct {
	cron         *cron.Cron
	interval     time.Duration
	lastActivity func() time.Time
	cache        CacheMaintainer
	limiter      *RateLimiter
	now          func() time.Time
	logger       *slog.Logger
}

func NewHealthMonitor(interval time.Duration, lastActivity func() time.Time, c CacheMaintainer, limiter *RateLimiter, logger *slog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	cl := cronLogger{logger}
	return &HealthMonitor{
		cron:         cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		interval:     interval,
		lastActivity: lastActivity,
		cache:        c,
		limiter:      limiter,
		now:          time.Now,
		logger:       logger,
	}
}

// Start schedules the check and starts the cron goroutine.
func (h *HealthMonitor) Start() error {
	if _, err := h.cron.AddFunc(fmt.Sprintf("@every %s", h.interval), h.Check); err != nil {
		return fmt.Errorf("schedule health check: %w", err)
	}
	h.logger.Info("starting server health monitoring", "interval", h.interval)
	h.cron.Start()
	return nil
}

// Stop stops scheduling and waits for a running check to finish, or for ctx.
func (h *HealthMonitor) Stop(ctx context.Context) {
	done := h.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		h.logger.Warn("health check did not finish before shutdown deadline")
	}
}

// Check runs one round of health logging and maintenance.
func (h *HealthMonitor) Check() {
	h.logger.Debug("server health check: running")

	if h.lastActivity != nil {
		idle := h.now().Sub(h.lastActivity())
		h.logger.Debug("server idle", "seconds", fmt.Sprintf("%.1f", idle.Seconds()))
		if idle > idleMaintenanceAfter {
			h.logger.Info("server idle, performing maintenance")
		}
	}

	if h.cache != nil {
		purged := h.cache.Purge()
		stats := h.cache.Stats()
		h.logger.Debug("cache stats",
			"purged", purged,
			"size", stats.Size,
			"max_size", stats.MaxSize,
			"hits", stats.Hits,
			"misses", stats.Misses,
			"evictions", stats.Evictions,
		)
	}

	if h.limiter != nil {
		h.logger.Debug("rate limiter", "tracked_clients", h.limiter.Prune())
	}
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
