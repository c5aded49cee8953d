// Package fetcher calls the upstream open-data provider and turns its
// payloads into canonical snapshots.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
	"github.com/hyeonsu-kim/citypulse/internal/core/observability"
)

const maxBodyBytes = 1 << 20

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration

	now func() time.Time
}

func New(httpClient *http.Client, baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		now:     time.Now,
	}
}

// Fetch performs one upstream call for the entity and parses the payload.
// path is the provider-specific resource segment, e.g. "citydata_ppltn/1/5".
func (c *Client) Fetch(ctx context.Context, domain, path string, entity model.Entity) (*model.Snapshot, error) {
	// the provider authenticates via the key segment in the URL path
	u := fmt.Sprintf("%s/%s/JSON/%s/%s", c.baseURL, c.apiKey, path, url.PathEscape(entity.ID))

	ctxReq, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxReq, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", entity.ID, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency(domain, time.Since(start).Seconds())
	if err != nil {
		return nil, &model.UpstreamError{Domain: domain, EntityID: entity.ID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &model.UpstreamError{Domain: domain, EntityID: entity.ID, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &model.UpstreamError{Domain: domain, EntityID: entity.ID, Err: err}
	}

	// the provider answers 200 with HTML/XML error pages; those are upstream
	// failures, not snapshots
	if !json.Valid(body) {
		return nil, &model.UpstreamError{
			Domain:   domain,
			EntityID: entity.ID,
			Err:      fmt.Errorf("non-JSON payload (%d bytes)", len(body)),
		}
	}

	load := ExtractLoad(body)
	return &model.Snapshot{
		Domain:    domain,
		EntityID:  entity.ID,
		Name:      entity.Name,
		Category:  entity.Category,
		Coord:     entity.Coord,
		Load:      load,
		Level:     Level(load),
		Raw:       json.RawMessage(body),
		FetchedAt: c.now(),
	}, nil
}

// populationFigure is the narrow slice of the provider payload the core
// consumes; everything else passes through opaquely in Snapshot.Raw.
type populationFigure struct {
	Min string `json:"AREA_PPLTN_MIN"`
	Max string `json:"AREA_PPLTN_MAX"`
}

// ExtractLoad computes the load metric from a raw provider payload: the floor
// of the mean of the min/max population estimates when both are positive,
// else whichever is positive, else zero.
func ExtractLoad(raw []byte) int {
	fig, ok := findFigure(raw)
	if !ok {
		return 0
	}
	minPop := atoi(fig.Min)
	maxPop := atoi(fig.Max)
	if minPop > 0 && maxPop > 0 {
		return (minPop + maxPop) / 2
	}
	if minPop > 0 {
		return minPop
	}
	if maxPop > 0 {
		return maxPop
	}
	return 0
}

// findFigure locates the first population figure in the payload. The
// canonical envelope key is tried first; other domains nest the same figure
// under different top-level keys.
func findFigure(raw []byte) (populationFigure, bool) {
	var canonical struct {
		Figures []populationFigure `json:"SeoulRtd.citydata_ppltn"`
	}
	if err := json.Unmarshal(raw, &canonical); err == nil && len(canonical.Figures) > 0 {
		return canonical.Figures[0], true
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return populationFigure{}, false
	}
	// scan keys in a fixed order so payloads carrying several candidate
	// arrays always resolve to the same figure
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var figs []populationFigure
		if err := json.Unmarshal(top[k], &figs); err != nil {
			continue
		}
		for _, f := range figs {
			if f.Min != "" || f.Max != "" {
				return f, true
			}
		}
	}
	return populationFigure{}, false
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Level buckets a load metric into the ordinal 1..5 congestion scale.
func Level(load int) int {
	switch {
	case load >= 10000:
		return 5
	case load >= 5000:
		return 4
	case load >= 2000:
		return 3
	case load >= 500:
		return 2
	default:
		return 1
	}
}
