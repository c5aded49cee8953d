// Package snapshot orchestrates the cache-aside read path over the TTL cache
// and the upstream fetcher, and the refresh path used by the background
// refresher.
package snapshot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyeonsu-kim/citypulse/internal/cache"
	"github.com/hyeonsu-kim/citypulse/internal/cache/keys"
	"github.com/hyeonsu-kim/citypulse/internal/core/model"
	"github.com/hyeonsu-kim/citypulse/internal/core/observability"
	"github.com/hyeonsu-kim/citypulse/internal/history"
	"github.com/hyeonsu-kim/citypulse/internal/refdata"
)

// Fetcher is the single-entity upstream call.
type Fetcher interface {
	Fetch(ctx context.Context, domain, path string, entity model.Entity) (*model.Snapshot, error)
}

type Config struct {
	Domain    string
	Path      string
	TTL       time.Duration
	BatchSize int
}

type Store struct {
	cfg     Config
	reg     *refdata.Registry
	cache   cache.Interface
	fetcher Fetcher
	hist    history.Store
	log     zerolog.Logger
}

func New(cfg Config, reg *refdata.Registry, c cache.Interface, f Fetcher, h history.Store, log zerolog.Logger) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Store{
		cfg:     cfg,
		reg:     reg,
		cache:   c,
		fetcher: f,
		hist:    h,
		log:     log.With().Str("domain", cfg.Domain).Logger(),
	}
}

// Domain returns the domain this store serves.
func (s *Store) Domain() string { return s.cfg.Domain }

// Registry returns the reference set backing this store.
func (s *Store) Registry() *refdata.Registry { return s.reg }

// GetSnapshot returns the latest snapshot for the entity: cache hit, else a
// synchronous fetch-and-populate. A fetch failure on a miss propagates; there
// is no data to fall back to.
func (s *Store) GetSnapshot(ctx context.Context, entityID string) (*model.Snapshot, error) {
	ent, ok := s.reg.ByID(entityID)
	if !ok {
		return nil, &model.InvalidEntityError{Domain: s.cfg.Domain, EntityID: entityID}
	}

	key := keys.Snapshot(s.cfg.Domain, entityID)
	if raw, ok := s.cache.Get(ctx, key); ok {
		if snap := decode(raw); snap != nil {
			return snap, nil
		}
		// corrupt cache entry: fall through to a fresh fetch
	}

	return s.fetchAndCache(ctx, ent)
}

// GetAllSnapshots returns the latest snapshot for every entity in the
// reference set. Cached values come from one bulk read; misses are fetched
// in bounded concurrent batches, and entities whose fetch fails are skipped.
func (s *Store) GetAllSnapshots(ctx context.Context) []*model.Snapshot {
	entities := s.reg.All()
	keyList := make([]string, len(entities))
	for i, e := range entities {
		keyList[i] = keys.Snapshot(s.cfg.Domain, e.ID)
	}

	hits := s.cache.MGet(ctx, keyList)

	results := make([]*model.Snapshot, 0, len(entities))
	var missing []model.Entity
	for i, e := range entities {
		if raw, ok := hits[keyList[i]]; ok {
			if snap := decode(raw); snap != nil {
				results = append(results, snap)
				continue
			}
		}
		missing = append(missing, e)
	}

	for start := 0; start < len(missing); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(missing))
		batch := missing[start:end]

		fetched := make([]*model.Snapshot, len(batch))
		var wg sync.WaitGroup
		wg.Add(len(batch))
		for i, ent := range batch {
			go func() {
				defer wg.Done()
				snap, err := s.fetchAndCache(ctx, ent)
				if err != nil {
					s.log.Warn().Err(err).Str("entity", ent.ID).Msg("bulk fill fetch failed")
					return
				}
				fetched[i] = snap
			}()
		}
		wg.Wait()

		for _, snap := range fetched {
			if snap != nil {
				results = append(results, snap)
			}
		}
	}
	return results
}

// RefreshOne always calls the upstream (bypassing the cache read), writes the
// result to the cache and, when persist is set, appends it to the history
// store. On a fetch failure the previously cached snapshot is returned
// instead with stale=true, so a transient outage does not blank out
// already-served data; with no cached fallback the error propagates.
func (s *Store) RefreshOne(ctx context.Context, entityID string, persist bool) (snap *model.Snapshot, stale bool, err error) {
	ent, ok := s.reg.ByID(entityID)
	if !ok {
		return nil, false, &model.InvalidEntityError{Domain: s.cfg.Domain, EntityID: entityID}
	}

	snap, err = s.fetcher.Fetch(ctx, s.cfg.Domain, s.cfg.Path, ent)
	if err != nil {
		key := keys.Snapshot(s.cfg.Domain, entityID)
		if raw, ok := s.cache.Get(ctx, key); ok {
			if prev := decode(raw); prev != nil {
				s.log.Warn().Err(err).Str("entity", entityID).Msg("refresh failed, keeping stale snapshot")
				return prev, true, nil
			}
		}
		return nil, false, err
	}

	if b := encode(snap); b != nil {
		s.cache.Set(ctx, keys.Snapshot(s.cfg.Domain, entityID), b, s.cfg.TTL)
	} else {
		s.log.Warn().Str("entity", entityID).Msg("snapshot not cacheable, refresh not stored")
	}

	if persist && s.hist != nil {
		p := model.HistoryPoint{
			Domain:   snap.Domain,
			EntityID: snap.EntityID,
			TS:       snap.FetchedAt.UnixMilli(),
			Name:     snap.Name,
			Category: snap.Category,
			Load:     snap.Load,
			Level:    snap.Level,
		}
		err := s.hist.Append(ctx, p)
		observability.ObserveHistoryAppend(s.hist.Driver(), err)
		if err != nil {
			// a history outage must never fail the cache refresh
			s.log.Warn().Err(err).Str("entity", entityID).Msg("history append dropped")
		}
	}
	return snap, false, nil
}

func (s *Store) fetchAndCache(ctx context.Context, ent model.Entity) (*model.Snapshot, error) {
	snap, err := s.fetcher.Fetch(ctx, s.cfg.Domain, s.cfg.Path, ent)
	if err != nil {
		return nil, err
	}
	if b := encode(snap); b != nil {
		s.cache.Set(ctx, keys.Snapshot(s.cfg.Domain, ent.ID), b, s.cfg.TTL)
	} else {
		s.log.Warn().Str("entity", ent.ID).Msg("snapshot not cacheable, serving uncached")
	}
	return snap, nil
}

// encode returns nil when the snapshot cannot be marshalled (an invalid Raw
// blob poisons the whole document); callers must not cache a nil result.
func encode(snap *model.Snapshot) []byte {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	return b
}

func decode(raw []byte) *model.Snapshot {
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil
	}
	if snap.EntityID == "" {
		return nil
	}
	return &snap
}
