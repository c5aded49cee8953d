// Package history defines the durable per-entity time series contract.
// Implementations enforce the retention horizon themselves; callers never
// filter for it.
package history

import (
	"context"
	"time"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
)

type Store interface {
	// Append stores one observation. Appending the same instant twice is
	// harmless (duplicates only feed averages).
	Append(ctx context.Context, p model.HistoryPoint) error
	// QueryRange returns points for one entity in [from, to], ascending by
	// timestamp. Points past the retention horizon are never returned.
	QueryRange(ctx context.Context, domain, entityID string, from, to time.Time) ([]model.HistoryPoint, error)
	// QueryRangeForKeys returns points since from for each id, capped at
	// perKeyLimit points per entity when > 0. Ids with no points are absent
	// from the map.
	QueryRangeForKeys(ctx context.Context, domain string, ids []string, from time.Time, perKeyLimit int) (map[string][]model.HistoryPoint, error)
	// Driver names the backing store, for logs and metrics.
	Driver() string
}
