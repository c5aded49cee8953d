// Package redisstore keeps the history series in Redis sorted sets, scored
// by timestamp. Retention is enforced by trimming on write, clamping on read
// and a rolling key TTL.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyeonsu-kim/citypulse/internal/cache/keys"
	cacheredis "github.com/hyeonsu-kim/citypulse/internal/cache/redisstore"
	"github.com/hyeonsu-kim/citypulse/internal/core/model"
	"github.com/hyeonsu-kim/citypulse/internal/history"
)

type Store struct {
	lazy      *cacheredis.Lazy
	retention time.Duration

	now func() time.Time
}

var _ history.Store = (*Store)(nil)

func New(lazy *cacheredis.Lazy, retention time.Duration) *Store {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Store{lazy: lazy, retention: retention, now: time.Now}
}

func (s *Store) Driver() string { return "redis" }

func (s *Store) horizon() time.Time { return s.now().Add(-s.retention) }

func (s *Store) Append(ctx context.Context, p model.HistoryPoint) error {
	cli, err := s.lazy.Get(ctx)
	if err != nil {
		return fmt.Errorf("history append: %w", err)
	}

	member, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("history append marshal: %w", err)
	}

	key := keys.History(p.Domain, p.EntityID)
	if err := cli.ZAdd(ctx, key, float64(p.TS), member); err != nil {
		return fmt.Errorf("history append: %w", err)
	}
	// trim expired points and keep the series key alive for one more horizon
	if err := cli.ZRemRangeByScore(ctx, key, 0, s.horizon().UnixMilli()-1); err != nil {
		return fmt.Errorf("history trim: %w", err)
	}
	if err := cli.Expire(ctx, key, s.retention); err != nil {
		return fmt.Errorf("history expire: %w", err)
	}
	return nil
}

func (s *Store) QueryRange(ctx context.Context, domain, entityID string, from, to time.Time) ([]model.HistoryPoint, error) {
	return s.queryOne(ctx, domain, entityID, from, to, 0)
}

func (s *Store) QueryRangeForKeys(ctx context.Context, domain string, ids []string, from time.Time, perKeyLimit int) (map[string][]model.HistoryPoint, error) {
	out := make(map[string][]model.HistoryPoint, len(ids))
	for _, id := range ids {
		pts, err := s.queryOne(ctx, domain, id, from, s.now(), perKeyLimit)
		if err != nil {
			return nil, err
		}
		if len(pts) > 0 {
			out[id] = pts
		}
	}
	return out, nil
}

func (s *Store) queryOne(ctx context.Context, domain, entityID string, from, to time.Time, limit int) ([]model.HistoryPoint, error) {
	cli, err := s.lazy.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}

	if h := s.horizon(); from.Before(h) {
		from = h
	}
	if to.Before(from) {
		return nil, nil
	}

	key := keys.History(domain, entityID)
	members, err := cli.ZRangeByScore(ctx, key, from.UnixMilli(), to.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("history query %s/%s: %w", domain, entityID, err)
	}

	pts := make([]model.HistoryPoint, 0, len(members))
	for _, m := range members {
		var p model.HistoryPoint
		if err := json.Unmarshal([]byte(m), &p); err != nil {
			// a corrupt member is skipped, not fatal
			continue
		}
		pts = append(pts, p)
	}
	return pts, nil
}
