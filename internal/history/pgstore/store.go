// Package pgstore keeps the history series in Postgres. Retention is
// enforced with a horizon predicate on every read plus a periodic purge.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
	"github.com/hyeonsu-kim/citypulse/internal/history"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = time.Hour
	defaultPingTimeout  = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS history_points (
	domain      TEXT    NOT NULL,
	entity_id   TEXT    NOT NULL,
	ts          BIGINT  NOT NULL,
	name        TEXT    NOT NULL DEFAULT '',
	category    TEXT    NOT NULL DEFAULT '',
	load        INTEGER NOT NULL DEFAULT 0,
	level       INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (domain, entity_id, ts)
);
CREATE INDEX IF NOT EXISTS history_points_domain_ts ON history_points (domain, ts);
`

type Store struct {
	db        *sql.DB
	retention time.Duration
	log       zerolog.Logger

	now func() time.Time
}

var _ history.Store = (*Store)(nil)

// New opens a pgx/stdlib backed pool, validates the connection and ensures
// the schema exists.
func New(ctx context.Context, dsn string, retention time.Duration, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("pgstore: empty DSN")
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore open: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgstore ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgstore schema: %w", err)
	}

	return &Store{db: db, retention: retention, log: log, now: time.Now}, nil
}

func (s *Store) Driver() string { return "postgres" }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) horizonMilli() int64 { return s.now().Add(-s.retention).UnixMilli() }

func (s *Store) Append(ctx context.Context, p model.HistoryPoint) error {
	const query = `
		INSERT INTO history_points (domain, entity_id, ts, name, category, load, level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain, entity_id, ts) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		p.Domain, p.EntityID, p.TS, p.Name, p.Category, p.Load, p.Level,
	); err != nil {
		return fmt.Errorf("pgstore append %s/%s: %w", p.Domain, p.EntityID, err)
	}
	return nil
}

func (s *Store) QueryRange(ctx context.Context, domain, entityID string, from, to time.Time) ([]model.HistoryPoint, error) {
	return s.queryOne(ctx, domain, entityID, from.UnixMilli(), to.UnixMilli(), 0)
}

func (s *Store) QueryRangeForKeys(ctx context.Context, domain string, ids []string, from time.Time, perKeyLimit int) (map[string][]model.HistoryPoint, error) {
	out := make(map[string][]model.HistoryPoint, len(ids))
	fromMs := from.UnixMilli()
	toMs := s.now().UnixMilli()
	for _, id := range ids {
		pts, err := s.queryOne(ctx, domain, id, fromMs, toMs, perKeyLimit)
		if err != nil {
			return nil, err
		}
		if len(pts) > 0 {
			out[id] = pts
		}
	}
	return out, nil
}

func (s *Store) queryOne(ctx context.Context, domain, entityID string, fromMs, toMs int64, limit int) ([]model.HistoryPoint, error) {
	if h := s.horizonMilli(); fromMs < h {
		fromMs = h
	}
	if toMs < fromMs {
		return nil, nil
	}

	query := `
		SELECT domain, entity_id, ts, name, category, load, level
		FROM history_points
		WHERE domain = $1 AND entity_id = $2 AND ts BETWEEN $3 AND $4
		ORDER BY ts ASC
	`
	args := []any{domain, entityID, fromMs, toMs}
	if limit > 0 {
		query += " LIMIT $5"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore query %s/%s: %w", domain, entityID, err)
	}
	defer func() { _ = rows.Close() }()

	var pts []model.HistoryPoint
	for rows.Next() {
		var p model.HistoryPoint
		if err := rows.Scan(&p.Domain, &p.EntityID, &p.TS, &p.Name, &p.Category, &p.Load, &p.Level); err != nil {
			return nil, fmt.Errorf("pgstore scan: %w", err)
		}
		pts = append(pts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore rows: %w", err)
	}
	return pts, nil
}

// PurgeLoop deletes expired rows on the given interval until ctx ends.
func (s *Store) PurgeLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.purgeExpired(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("history purge failed")
				continue
			}
			if n > 0 {
				s.log.Info().Int64("rows", n).Msg("history purge")
			}
		}
	}
}

func (s *Store) purgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM history_points WHERE ts < $1`, s.horizonMilli())
	if err != nil {
		return 0, fmt.Errorf("pgstore purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
