// Package refresher drives the background refresh cycles: every tracked
// entity is re-fetched on a fixed interval with a cap on in-flight upstream
// calls, and on a separate, strictly longer interval the refreshed snapshots
// are also committed to the history store.
package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
	"github.com/hyeonsu-kim/citypulse/internal/core/observability"
	"github.com/hyeonsu-kim/citypulse/internal/refdata"
)

// Target is the refreshable snapshot store for one domain. stale reports
// that the refresh fell back to a previously cached snapshot.
type Target interface {
	Domain() string
	Registry() *refdata.Registry
	RefreshOne(ctx context.Context, entityID string, persist bool) (snap *model.Snapshot, stale bool, err error)
}

type Config struct {
	Interval        time.Duration
	HistoryInterval time.Duration
	BatchSize       int
}

type Refresher struct {
	target Target
	cfg    Config
	log    zerolog.Logger

	lastPersist time.Time
	now         func() time.Time
}

func New(target Target, cfg Config, log zerolog.Logger) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.HistoryInterval < cfg.Interval {
		cfg.HistoryInterval = cfg.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Refresher{
		target: target,
		cfg:    cfg,
		log:    log.With().Str("domain", target.Domain()).Logger(),
		now:    time.Now,
	}
}

// Run performs an immediate first cycle, then one per interval until ctx
// ends.
func (r *Refresher) Run(ctx context.Context) {
	r.log.Info().
		Dur("interval", r.cfg.Interval).
		Dur("history_interval", r.cfg.HistoryInterval).
		Int("batch", r.cfg.BatchSize).
		Int("entities", r.target.Registry().Len()).
		Msg("refresher started")

	r.RunCycle(ctx)

	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("refresher stopped")
			return
		case <-t.C:
			r.RunCycle(ctx)
		}
	}
}

type outcome struct {
	stale bool
	err   error
}

// RunCycle refreshes every entity once, in batches of at most BatchSize
// concurrent upstream calls. A single entity's failure never aborts the
// batch; failed entities simply retry on the next cycle. Entities served
// from a stale fallback are counted apart from fresh refreshes so a full
// upstream outage is visible in the cycle outcome.
func (r *Refresher) RunCycle(ctx context.Context) (fresh, stale, failed int, persisted bool) {
	start := r.now()
	persisted = r.lastPersist.IsZero() || start.Sub(r.lastPersist) >= r.cfg.HistoryInterval

	ids := r.target.Registry().IDs()
	for from := 0; from < len(ids); from += r.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		to := min(from+r.cfg.BatchSize, len(ids))
		batch := ids[from:to]

		outcomes := make([]outcome, len(batch))
		var wg sync.WaitGroup
		wg.Add(len(batch))
		for i, id := range batch {
			go func() {
				defer wg.Done()
				_, wasStale, err := r.target.RefreshOne(ctx, id, persisted)
				outcomes[i] = outcome{stale: wasStale, err: err}
			}()
		}
		wg.Wait()

		for i, o := range outcomes {
			switch {
			case o.err != nil:
				failed++
				r.log.Warn().Err(o.err).Str("entity", batch[i]).Msg("refresh failed")
			case o.stale:
				stale++
			default:
				fresh++
			}
		}
	}

	if persisted {
		r.lastPersist = start
	}

	dur := r.now().Sub(start)
	observability.ObserveRefreshCycle(r.target.Domain(), persisted, dur.Seconds())
	r.log.Info().
		Int("ok", fresh).
		Int("stale", stale).
		Int("failed", failed).
		Bool("history", persisted).
		Dur("dur", dur).
		Msg("refresh cycle done")
	return fresh, stale, failed, persisted
}
