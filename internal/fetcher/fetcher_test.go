package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
)

func TestExtractLoad(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{
			name: "both bounds",
			raw:  `{"SeoulRtd.citydata_ppltn":[{"AREA_PPLTN_MIN":"6000","AREA_PPLTN_MAX":"6500"}]}`,
			want: 6250,
		},
		{
			name: "floor of odd sum",
			raw:  `{"SeoulRtd.citydata_ppltn":[{"AREA_PPLTN_MIN":"3","AREA_PPLTN_MAX":"4"}]}`,
			want: 3,
		},
		{
			name: "only max",
			raw:  `{"SeoulRtd.citydata_ppltn":[{"AREA_PPLTN_MIN":"0","AREA_PPLTN_MAX":"4000"}]}`,
			want: 4000,
		},
		{
			name: "only min",
			raw:  `{"SeoulRtd.citydata_ppltn":[{"AREA_PPLTN_MIN":"1200","AREA_PPLTN_MAX":""}]}`,
			want: 1200,
		},
		{
			name: "neither",
			raw:  `{"SeoulRtd.citydata_ppltn":[{"AREA_PPLTN_MIN":"0","AREA_PPLTN_MAX":"0"}]}`,
			want: 0,
		},
		{
			name: "negative treated as absent",
			raw:  `{"SeoulRtd.citydata_ppltn":[{"AREA_PPLTN_MIN":"-5","AREA_PPLTN_MAX":"300"}]}`,
			want: 300,
		},
		{
			name: "non-numeric strings",
			raw:  `{"SeoulRtd.citydata_ppltn":[{"AREA_PPLTN_MIN":"n/a","AREA_PPLTN_MAX":"oops"}]}`,
			want: 0,
		},
		{
			name: "figure under another envelope key",
			raw:  `{"CITYDATA":[{"AREA_PPLTN_MIN":"800","AREA_PPLTN_MAX":"1000"}]}`,
			want: 900,
		},
		{
			name: "empty payload",
			raw:  `{}`,
			want: 0,
		},
		{
			name: "not json",
			raw:  `<html>error</html>`,
			want: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractLoad([]byte(tc.raw)); got != tc.want {
				t.Fatalf("ExtractLoad=%d want %d", got, tc.want)
			}
		})
	}
}

func TestExtractLoad_StableAcrossCandidateKeys(t *testing.T) {
	// two plausible envelope arrays; the lexically first key must win every
	// time, regardless of map iteration order
	raw := []byte(`{"ZONES":[{"AREA_PPLTN_MIN":"9000","AREA_PPLTN_MAX":"9000"}],"CITYDATA":[{"AREA_PPLTN_MIN":"100","AREA_PPLTN_MAX":"200"}]}`)
	for i := 0; i < 50; i++ {
		if got := ExtractLoad(raw); got != 150 {
			t.Fatalf("iteration %d: ExtractLoad=%d want 150", i, got)
		}
	}
}

func TestLevel(t *testing.T) {
	cases := []struct {
		load, want int
	}{
		{0, 1},
		{499, 1},
		{500, 2},
		{1999, 2},
		{2000, 3},
		{4999, 3},
		{5000, 4},
		{9999, 4},
		{10000, 5},
		{250000, 5},
	}
	for _, tc := range cases {
		if got := Level(tc.load); got != tc.want {
			t.Fatalf("Level(%d)=%d want %d", tc.load, got, tc.want)
		}
	}
}

func TestFetch_Success(t *testing.T) {
	const payload = `{"SeoulRtd.citydata_ppltn":[{"AREA_PPLTN_MIN":"6000","AREA_PPLTN_MAX":"6500"}]}`

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "test-key", time.Second)
	ent := model.Entity{ID: "POI001", Name: "Gangnam Station", Category: "tourist_zone"}

	snap, err := c.Fetch(context.Background(), "crowd", "citydata_ppltn/1/5", ent)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/test-key/JSON/citydata_ppltn/1/5/POI001" {
		t.Fatalf("path=%q", gotPath)
	}
	if snap.Load != 6250 || snap.Level != 4 {
		t.Fatalf("load=%d level=%d want 6250/4", snap.Load, snap.Level)
	}
	if snap.Domain != "crowd" || snap.EntityID != "POI001" || snap.Name != "Gangnam Station" {
		t.Fatalf("identity fields wrong: %+v", snap)
	}
	if string(snap.Raw) != payload {
		t.Fatalf("raw payload not preserved")
	}
	if snap.FetchedAt.IsZero() {
		t.Fatal("FetchedAt not set")
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "k", time.Second)
	_, err := c.Fetch(context.Background(), "crowd", "citydata_ppltn/1/5", model.Entity{ID: "POI001"})

	var up *model.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("err=%v want UpstreamError", err)
	}
	if up.Status != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", up.Status)
	}
}

func TestFetch_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>quota exceeded</body></html>"))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "k", time.Second)
	snap, err := c.Fetch(context.Background(), "crowd", "citydata_ppltn/1/5", model.Entity{ID: "POI001"})

	// a 200 carrying an HTML error page is an upstream failure, never a
	// snapshot
	var up *model.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("err=%v want UpstreamError", err)
	}
	if snap != nil {
		t.Fatalf("snap=%+v want nil", snap)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "k", 50*time.Millisecond)
	_, err := c.Fetch(context.Background(), "crowd", "citydata_ppltn/1/5", model.Entity{ID: "POI001"})

	var up *model.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("err=%v want UpstreamError", err)
	}
	if up.Status != 0 {
		t.Fatalf("status=%d want 0 for transport error", up.Status)
	}
}
