// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Coordinate is a WGS84 point. Entities without a known location carry a nil
// *Coordinate and are skipped by proximity search.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Entity is one tracked point of interest from the static reference set.
type Entity struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	NameEng  string      `json:"name_eng,omitempty"`
	Category string      `json:"category"`
	Coord    *Coordinate `json:"coord,omitempty"`
}

// Snapshot is the latest observation of one entity. It is immutable once
// produced; a refresh replaces the cached value under the same key.
type Snapshot struct {
	Domain    string          `json:"domain"`
	EntityID  string          `json:"entity_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Coord     *Coordinate     `json:"coord,omitempty"`
	Load      int             `json:"load"`
	Level     int             `json:"level"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// HistoryPoint is one durable observation. TS is unix milliseconds and
// unique per (domain, entity).
type HistoryPoint struct {
	Domain   string `json:"domain"`
	EntityID string `json:"entity_id"`
	TS       int64  `json:"ts"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Load     int    `json:"load"`
	Level    int    `json:"level"`
}

// Time returns the point's timestamp as time.Time.
func (p HistoryPoint) Time() time.Time { return time.UnixMilli(p.TS) }

// RankingRow is a derived view over HistoryPoints within a window. Never
// persisted.
type RankingRow struct {
	Rank     int     `json:"rank"`
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	AvgLoad  int     `json:"avg_load"`
	PeakLoad int     `json:"peak_load"`
	AvgLevel float64 `json:"avg_level"`
}

// NearbyResult pairs a snapshot with its distance from the query point.
type NearbyResult struct {
	Snapshot   *Snapshot `json:"snapshot"`
	DistanceKm float64   `json:"distance_km"`
}

// InvalidEntityError marks an id that is not part of the reference set.
type InvalidEntityError struct {
	Domain   string
	EntityID string
}

func (e *InvalidEntityError) Error() string {
	return fmt.Sprintf("unknown entity %q in domain %q", e.EntityID, e.Domain)
}

// UpstreamError wraps a failed provider call: network error, timeout, or a
// non-success status.
type UpstreamError struct {
	Domain   string
	EntityID string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s/%s: status=%d", e.Domain, e.EntityID, e.Status)
	}
	return fmt.Sprintf("upstream %s/%s: %v", e.Domain, e.EntityID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
