package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
	"github.com/hyeonsu-kim/citypulse/internal/core/observability"
	"github.com/hyeonsu-kim/citypulse/internal/geo"
	"github.com/hyeonsu-kim/citypulse/internal/snapshot"
)

const (
	maxWindowHours  = 24 * 30
	defaultRadiusKm = 1.0
	maxRadiusKm     = 50.0
)

type api struct {
	deps Deps
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// wrap records the request metric under the route pattern, not the raw path,
// to keep label cardinality bounded.
func (a *api) wrap(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainErr maps domain errors onto status codes: unknown entity is the
// caller's fault, a failed provider is a bad gateway.
func (a *api) writeDomainErr(w http.ResponseWriter, err error) {
	var inv *model.InvalidEntityError
	var up *model.UpstreamError
	switch {
	case errors.As(err, &inv):
		writeErr(w, http.StatusNotFound, inv.Error())
	case errors.As(err, &up):
		writeErr(w, http.StatusBadGateway, up.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *api) store(w http.ResponseWriter, r *http.Request) (*snapshot.Store, bool) {
	domain := chi.URLParam(r, "domain")
	st, ok := a.deps.Stores[domain]
	if !ok {
		writeErr(w, http.StatusNotFound, fmt.Sprintf("unknown domain %q", domain))
		return nil, false
	}
	return st, true
}

func (a *api) listSnapshots(w http.ResponseWriter, r *http.Request) {
	st, ok := a.store(w, r)
	if !ok {
		return
	}
	snaps := st.GetAllSnapshots(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"domain": st.Domain(),
		"count":  len(snaps),
		"items":  snaps,
	})
}

func (a *api) getSnapshot(w http.ResponseWriter, r *http.Request) {
	st, ok := a.store(w, r)
	if !ok {
		return
	}
	snap, err := st.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) entityHistory(w http.ResponseWriter, r *http.Request) {
	st, ok := a.store(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if !st.Registry().IsValid(id) {
		a.writeDomainErr(w, &model.InvalidEntityError{Domain: st.Domain(), EntityID: id})
		return
	}

	hours, err := parseHours(r.URL.Query().Get("hours"), 24)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)
	points, err := a.deps.History.QueryRange(r.Context(), st.Domain(), id, from, to)
	if err != nil {
		a.deps.Logger.Error("history query failed", "domain", st.Domain(), "entity", id, "err", err)
		writeErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	resp := map[string]any{
		"domain":    st.Domain(),
		"entity_id": id,
		"hours":     hours,
		"count":     len(points),
		"points":    points,
	}
	if len(points) > 0 {
		var loadSum, levelSum, peak int
		for _, p := range points {
			loadSum += p.Load
			levelSum += p.Level
			if p.Load > peak {
				peak = p.Load
			}
		}
		n := float64(len(points))
		resp["summary"] = map[string]any{
			"avg_load":  int(math.Round(float64(loadSum) / n)),
			"peak_load": peak,
			"avg_level": math.Round(float64(levelSum)/n*10) / 10,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) rankings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	hours, err := parseHours(q.Get("hours"), 24)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 10
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	rows, err := a.deps.Ranking.Rankings(r.Context(), hours, strings.TrimSpace(q.Get("category")), limit)
	if err != nil {
		a.deps.Logger.Error("rankings failed", "err", err)
		writeErr(w, http.StatusInternalServerError, "rankings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hours": hours,
		"count": len(rows),
		"items": rows,
	})
}

func (a *api) nearby(w http.ResponseWriter, r *http.Request) {
	st, ok := a.store(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	lat, err := parseCoord(q.Get("lat"), -90, 90, "lat")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	lng, err := parseCoord(q.Get("lng"), -180, 180, "lng")
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	radius := defaultRadiusKm
	if raw := strings.TrimSpace(q.Get("radius")); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 || radius > maxRadiusKm {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("radius must be in (0,%g] km", maxRadiusKm))
			return
		}
	}

	snaps := st.GetAllSnapshots(r.Context())
	results := geo.Nearby(snaps, lat, lng, radius)
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":    st.Domain(),
		"lat":       lat,
		"lng":       lng,
		"radius_km": radius,
		"count":     len(results),
		"items":     results,
	})
}

func parseHours(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	h, err := strconv.Atoi(raw)
	if err != nil || h <= 0 || h > maxWindowHours {
		return 0, fmt.Errorf("hours must be an integer in [1,%d]", maxWindowHours)
	}
	return h, nil
}

func parseCoord(raw string, min, max float64, name string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < min || v > max {
		return 0, fmt.Errorf("%s must be a number in [%g,%g]", name, min, max)
	}
	return v, nil
}
