// Package health reports whether the registry can serve requests.
package health

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/giygas/drug-registry/interfaces"
	"github.com/giygas/drug-registry/logging"
	"github.com/giygas/drug-registry/scheduler"
)

const (
	degradedAge  = 25 * time.Hour
	unhealthyAge = 48 * time.Hour
	pingTimeout  = 2 * time.Second
)

// HealthCheckerImpl implements the interfaces.HealthChecker interface
type HealthCheckerImpl struct {
	db        interfaces.Pinger
	indexes   []interfaces.Indexer
	staging   interfaces.Staging
	reindexAt []string
	now       func() time.Time
}

// NewHealthChecker creates a new health checker with injected dependencies.
// staging may be nil.
func NewHealthChecker(db interfaces.Pinger, indexes []interfaces.Indexer, staging interfaces.Staging, reindexAt []string) *HealthCheckerImpl {
	return &HealthCheckerImpl{
		db:        db,
		indexes:   indexes,
		staging:   staging,
		reindexAt: reindexAt,
		now:       time.Now,
	}
}

// HealthCheck returns the status label, details and HTTP status for /health.
// A failed database ping or an index older than 48h is unhealthy; an index older
// than 25h is degraded. Indexes that were never built are loaded lazily and do
// not affect the status.
func (h *HealthCheckerImpl) HealthCheck(ctx context.Context) (status string, data map[string]any, httpStatus int) {
	now := h.now()
	status, httpStatus = "healthy", http.StatusOK
	worsen := func(s string) {
		if s == "unhealthy" || status == "healthy" {
			status = s
			httpStatus = http.StatusServiceUnavailable
		}
	}

	data = map[string]any{}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	dbErr := h.db.PingContext(pingCtx)
	if dbErr != nil {
		logging.Error("Database ping failed", "error", dbErr)
		data["database"] = "unreachable"
		worsen("unhealthy")
	} else {
		data["database"] = "ok"
	}

	indexes := make(map[string]any, len(h.indexes))
	for _, ix := range h.indexes {
		idx := ix.Index()
		last := idx.LastUpdated()
		info := map[string]any{
			"entries":     idx.Len(),
			"version":     idx.Version(),
			"is_updating": idx.IsUpdating(),
		}
		if !last.IsZero() {
			age := now.Sub(last)
			info["last_update"] = last.Format(time.RFC3339)
			info["age_hours"] = math.Round(age.Hours()*10) / 10
			switch {
			case age > unhealthyAge:
				worsen("unhealthy")
			case age > degradedAge:
				worsen("degraded")
			}
		} else {
			info["last_update"] = nil
		}
		indexes[idx.Name()] = info
	}
	data["indexes"] = indexes

	if h.staging != nil && dbErr == nil {
		pending, err := h.staging.ListPending(ctx)
		if err != nil {
			logging.Warn("Failed to count pending staging candidates", "error", err)
		} else {
			data["pending_staging"] = len(pending)
		}
	}

	if next := h.CalculateNextUpdate(); !next.IsZero() {
		data["next_reindex"] = next.Format(time.RFC3339)
	}

	return status, data, httpStatus
}

// CalculateNextUpdate returns the next scheduled index rebuild.
func (h *HealthCheckerImpl) CalculateNextUpdate() time.Time {
	return scheduler.CalculateNextUpdate(h.reindexAt, h.now())
}
