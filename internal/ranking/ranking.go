// Package ranking computes time-windowed popularity rankings over the
// history store. Per-entity samples are capped, so the aggregate is
// approximate by design: cost is bounded regardless of window size.
package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
	"github.com/hyeonsu-kim/citypulse/internal/history"
	"github.com/hyeonsu-kim/citypulse/internal/refdata"
)

type Config struct {
	Domain      string
	SampleLimit int
	// CacheSize <= 0 disables result memoization.
	CacheSize int
	CacheTTL  time.Duration
}

type Aggregator struct {
	hist history.Store
	reg  *refdata.Registry
	cfg  Config
	memo *expirable.LRU[string, []model.RankingRow]

	now func() time.Time
}

func New(hist history.Store, reg *refdata.Registry, cfg Config) *Aggregator {
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 100
	}
	a := &Aggregator{hist: hist, reg: reg, cfg: cfg, now: time.Now}
	if cfg.CacheSize > 0 {
		a.memo = expirable.NewLRU[string, []model.RankingRow](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return a
}

// Rankings returns entities ordered by average load over the window,
// descending, ties broken by entity id so the order is stable. Entities with
// no samples in the window are absent. limit <= 0 returns all rows.
func (a *Aggregator) Rankings(ctx context.Context, windowHours int, category string, limit int) ([]model.RankingRow, error) {
	if windowHours <= 0 {
		windowHours = 24
	}

	memoKey := fmt.Sprintf("%d|%s|%d", windowHours, category, limit)
	if a.memo != nil {
		if rows, ok := a.memo.Get(memoKey); ok {
			return rows, nil
		}
	}

	candidates := a.reg.ByCategory(category)
	ids := make([]string, 0, len(candidates))
	byID := make(map[string]model.Entity, len(candidates))
	for _, e := range candidates {
		ids = append(ids, e.ID)
		byID[e.ID] = e
	}

	from := a.now().Add(-time.Duration(windowHours) * time.Hour)
	series, err := a.hist.QueryRangeForKeys(ctx, a.cfg.Domain, ids, from, a.cfg.SampleLimit)
	if err != nil {
		return nil, fmt.Errorf("rankings window=%dh: %w", windowHours, err)
	}

	rows := make([]model.RankingRow, 0, len(series))
	for id, pts := range series {
		if len(pts) == 0 {
			continue
		}
		ent := byID[id]

		var loadSum, levelSum, peak int
		for _, p := range pts {
			loadSum += p.Load
			levelSum += p.Level
			if p.Load > peak {
				peak = p.Load
			}
		}
		n := float64(len(pts))
		rows = append(rows, model.RankingRow{
			EntityID: id,
			Name:     ent.Name,
			Category: ent.Category,
			AvgLoad:  int(math.Round(float64(loadSum) / n)),
			PeakLoad: peak,
			AvgLevel: math.Round(float64(levelSum)/n*10) / 10,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AvgLoad != rows[j].AvgLoad {
			return rows[i].AvgLoad > rows[j].AvgLoad
		}
		return rows[i].EntityID < rows[j].EntityID
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}

	if a.memo != nil {
		a.memo.Add(memoKey, rows)
	}
	return rows, nil
}
