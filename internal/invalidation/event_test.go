package invalidation

import (
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		Version:  1,
		Op:       OpEvict,
		Domain:   "crowd",
		EntityID: "POI001",
		TS:       time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		Source:   "ops",
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"valid evict", func(*Event) {}, false},
		{"valid evict_domain without entity", func(e *Event) {
			e.Op = OpEvictDomain
			e.EntityID = ""
		}, false},
		{"wrong version", func(e *Event) { e.Version = 2 }, true},
		{"missing domain", func(e *Event) { e.Domain = " " }, true},
		{"missing ts", func(e *Event) { e.TS = time.Time{} }, true},
		{"evict without entity", func(e *Event) { e.EntityID = "" }, true},
		{"unknown op", func(e *Event) { e.Op = "purge" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := validEvent()
			tc.mutate(&ev)
			err := ev.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
