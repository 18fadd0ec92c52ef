package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/lodgic/authd/internal/cache"
	"github.com/lodgic/authd/internal/database"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Checker probes the server's backing dependencies.
type Checker struct {
	DB     *database.Database
	Cache  *cache.Service
	Logger *slog.Logger
}

func NewChecker(db *database.Database, cacheService *cache.Service, logger *slog.Logger) *Checker {
	return &Checker{DB: db, Cache: cacheService, Logger: logger}
}

type Status struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Critical  bool   `json:"critical"`
}

// CheckHealth probes each dependency. The database is critical; a dead
// cache only degrades the result since every cache path falls back to
// the database.
func (c *Checker) CheckHealth(ctx context.Context) Status {
	components := map[string]ComponentHealth{
		"database": c.checkDatabase(ctx),
		"cache":    c.checkCache(ctx),
	}

	status := StatusHealthy
	for _, component := range components {
		if component.Status == StatusUnhealthy {
			if component.Critical {
				status = StatusUnhealthy
				break
			}
			status = StatusDegraded
		}
	}

	return Status{
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}
}

func (c *Checker) checkDatabase(ctx context.Context) ComponentHealth {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := c.DB.Ping(probeCtx)
	latency := time.Since(start)

	if err != nil {
		c.Logger.ErrorContext(ctx, "database health check failed", "error", err)
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   "database unreachable",
			LatencyMS: latency.Milliseconds(),
			Critical:  true,
		}
	}
	return ComponentHealth{Status: StatusHealthy, LatencyMS: latency.Milliseconds(), Critical: true}
}

func (c *Checker) checkCache(ctx context.Context) ComponentHealth {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := c.Cache.Health(probeCtx)
	latency := time.Since(start)

	if err != nil {
		c.Logger.WarnContext(ctx, "cache health check failed", "error", err)
		return ComponentHealth{
			Status:    StatusUnhealthy,
			Message:   "cache unreachable",
			LatencyMS: latency.Milliseconds(),
			Critical:  false,
		}
	}
	return ComponentHealth{Status: StatusHealthy, LatencyMS: latency.Milliseconds(), Critical: false}
}
