package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyeonsu-kim/citypulse/internal/core/config"
	"github.com/hyeonsu-kim/citypulse/internal/core/model"
	"github.com/hyeonsu-kim/citypulse/internal/ranking"
	"github.com/hyeonsu-kim/citypulse/internal/refdata"
	"github.com/hyeonsu-kim/citypulse/internal/snapshot"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memCache) MGet(_ context.Context, keys []string) map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]byte{}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (m *memCache) Set(_ context.Context, key string, val []byte, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
}

func (m *memCache) Del(_ context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
}

type stubFetcher struct {
	fail map[string]error
}

func (s *stubFetcher) Fetch(_ context.Context, domain, _ string, ent model.Entity) (*model.Snapshot, error) {
	if err, ok := s.fail[ent.ID]; ok {
		return nil, err
	}
	return &model.Snapshot{
		Domain:    domain,
		EntityID:  ent.ID,
		Name:      ent.Name,
		Category:  ent.Category,
		Coord:     ent.Coord,
		Load:      1500,
		Level:     2,
		FetchedAt: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}, nil
}

type stubHistory struct {
	series map[string][]model.HistoryPoint
	err    error
}

func (s *stubHistory) Append(context.Context, model.HistoryPoint) error { return nil }

func (s *stubHistory) QueryRange(_ context.Context, _ string, id string, _, _ time.Time) ([]model.HistoryPoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.series[id], nil
}

func (s *stubHistory) QueryRangeForKeys(_ context.Context, _ string, ids []string, _ time.Time, _ int) (map[string][]model.HistoryPoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := map[string][]model.HistoryPoint{}
	for _, id := range ids {
		if pts, ok := s.series[id]; ok {
			out[id] = pts
		}
	}
	return out, nil
}

func (s *stubHistory) Driver() string { return "stub" }

func newTestRouter(t *testing.T, sf *stubFetcher, sh *stubHistory) http.Handler {
	t.Helper()
	reg := refdata.FromEntities([]model.Entity{
		{ID: "POI001", Name: "Gangnam Station", Category: "tourist_zone", Coord: &model.Coordinate{Lat: 37.4979, Lng: 127.0276}},
		{ID: "POI002", Name: "Hongdae", Category: "tourist_zone", Coord: &model.Coordinate{Lat: 37.5568, Lng: 126.9237}},
	})
	st := snapshot.New(snapshot.Config{
		Domain: "crowd", Path: "citydata_ppltn/1/5", TTL: 10 * time.Minute,
	}, reg, newMemCache(), sf, sh, zerolog.Nop())

	return NewRouter(Deps{
		Config:  config.Config{Addr: ":0"},
		Logger:  slog.Default(),
		Stores:  map[string]*snapshot.Store{"crowd": st},
		History: sh,
		Ranking: ranking.New(sh, reg, ranking.Config{Domain: "crowd"}),
	})
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	rr := doGet(t, h, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestGetSnapshot(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	rr := doGet(t, h, "/api/crowd/POI001")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var snap model.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.EntityID != "POI001" || snap.Load != 1500 {
		t.Fatalf("snapshot wrong: %+v", snap)
	}
}

func TestGetSnapshot_UnknownEntity404(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	if rr := doGet(t, h, "/api/crowd/POI999"); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestGetSnapshot_UnknownDomain404(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	if rr := doGet(t, h, "/api/weather/POI001"); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestGetSnapshot_UpstreamFailure502(t *testing.T) {
	sf := &stubFetcher{fail: map[string]error{
		"POI001": &model.UpstreamError{Domain: "crowd", EntityID: "POI001", Status: 500},
	}}
	h := newTestRouter(t, sf, &stubHistory{})
	if rr := doGet(t, h, "/api/crowd/POI001"); rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", rr.Code)
	}
}

func TestListSnapshots_SkipsFailedEntities(t *testing.T) {
	sf := &stubFetcher{fail: map[string]error{"POI002": errors.New("down")}}
	h := newTestRouter(t, sf, &stubHistory{})
	rr := doGet(t, h, "/api/crowd")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body struct {
		Count int              `json:"count"`
		Items []model.Snapshot `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Items[0].EntityID != "POI001" {
		t.Fatalf("body=%+v", body)
	}
}

func TestEntityHistory(t *testing.T) {
	sh := &stubHistory{series: map[string][]model.HistoryPoint{
		"POI001": {
			{Domain: "crowd", EntityID: "POI001", TS: 1, Load: 100, Level: 1},
			{Domain: "crowd", EntityID: "POI001", TS: 2, Load: 600, Level: 2},
		},
	}}
	h := newTestRouter(t, &stubFetcher{}, sh)
	rr := doGet(t, h, "/api/crowd/POI001/history?hours=6")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Hours   int                  `json:"hours"`
		Count   int                  `json:"count"`
		Points  []model.HistoryPoint `json:"points"`
		Summary struct {
			AvgLoad  int     `json:"avg_load"`
			PeakLoad int     `json:"peak_load"`
			AvgLevel float64 `json:"avg_level"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Hours != 6 || body.Count != 2 || len(body.Points) != 2 {
		t.Fatalf("body=%+v", body)
	}
	if body.Summary.AvgLoad != 350 || body.Summary.PeakLoad != 600 || body.Summary.AvgLevel != 1.5 {
		t.Fatalf("summary=%+v", body.Summary)
	}
}

func TestEntityHistory_BadHours400(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	for _, q := range []string{"hours=0", "hours=-3", "hours=abc", "hours=100000"} {
		if rr := doGet(t, h, "/api/crowd/POI001/history?"+q); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", q, rr.Code)
		}
	}
}

func TestEntityHistory_UnknownEntity404(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	if rr := doGet(t, h, "/api/crowd/POI999/history"); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestEntityHistory_StoreFailure500(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{err: errors.New("down")})
	if rr := doGet(t, h, "/api/crowd/POI001/history"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rr.Code)
	}
}

func TestRankings(t *testing.T) {
	sh := &stubHistory{series: map[string][]model.HistoryPoint{
		"POI001": {{Load: 100, Level: 1}},
		"POI002": {{Load: 900, Level: 2}},
	}}
	h := newTestRouter(t, &stubFetcher{}, sh)
	rr := doGet(t, h, "/api/rankings?hours=12&limit=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Count int                `json:"count"`
		Items []model.RankingRow `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Items[0].EntityID != "POI002" || body.Items[0].Rank != 1 {
		t.Fatalf("body=%+v", body)
	}
}

func TestRankings_BadLimit400(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	if rr := doGet(t, h, "/api/rankings?limit=-1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

func TestNearby(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	// query point on Gangnam Station; Hongdae is ~12km away
	rr := doGet(t, h, "/api/crowd/nearby?lat=37.4979&lng=127.0276&radius=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Count int                  `json:"count"`
		Items []model.NearbyResult `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Items[0].Snapshot.EntityID != "POI001" {
		t.Fatalf("body=%+v", body)
	}
}

func TestNearby_BadParams400(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	for _, q := range []string{
		"",                       // missing lat/lng
		"lat=37.5",               // missing lng
		"lat=91&lng=127",         // lat out of range
		"lat=37.5&lng=181",       // lng out of range
		"lat=37.5&lng=127&radius=0",
		"lat=37.5&lng=127&radius=9999",
	} {
		if rr := doGet(t, h, "/api/crowd/nearby?"+q); rr.Code != http.StatusBadRequest {
			t.Fatalf("%q: status=%d want 400", q, rr.Code)
		}
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	h := newTestRouter(t, &stubFetcher{}, &stubHistory{})
	rr := doGet(t, h, "/healthz")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID not set")
	}
}
