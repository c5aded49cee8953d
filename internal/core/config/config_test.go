package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.CacheTTLDefault != 10*time.Minute {
		t.Fatalf("ttl=%v", cfg.CacheTTLDefault)
	}
	if cfg.RefreshInterval != 10*time.Minute || cfg.HistoryInterval != 30*time.Minute {
		t.Fatalf("intervals=%v/%v", cfg.RefreshInterval, cfg.HistoryInterval)
	}
	if cfg.RefreshBatchSize != 20 {
		t.Fatalf("batch=%d", cfg.RefreshBatchSize)
	}
	if len(cfg.Domains) != 3 {
		t.Fatalf("domains=%v", cfg.Domains)
	}
	if cfg.History.Driver != "redis" || cfg.History.Retention != 30*24*time.Hour {
		t.Fatalf("history=%+v", cfg.History)
	}
	if got := cfg.RefreshIntervalFor("parking"); got != 5*time.Minute {
		t.Fatalf("parking refresh=%v want 5m default override", got)
	}
}

func TestFromEnv_HistoryIntervalClamped(t *testing.T) {
	t.Setenv("REFRESH_INTERVAL", "20m")
	t.Setenv("HISTORY_INTERVAL", "5m")

	cfg := FromEnv()
	if cfg.HistoryInterval != 20*time.Minute {
		t.Fatalf("history interval=%v want clamped to refresh interval", cfg.HistoryInterval)
	}
}

func TestValidate(t *testing.T) {
	if err := FromEnv().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	// a ranking domain outside DOMAINS would nil-deref on the first
	// rankings request; it must be rejected at startup
	t.Setenv("DOMAINS", "crowd,transit")
	t.Setenv("RANKING_DOMAIN", "parking")
	if err := FromEnv().Validate(); err == nil {
		t.Fatal("ranking domain outside DOMAINS accepted")
	}

	t.Setenv("RANKING_DOMAIN", "crowd")
	t.Setenv("HISTORY_DRIVER", "mysql")
	if err := FromEnv().Validate(); err == nil {
		t.Fatal("unknown history driver accepted")
	}
}

func TestTTLFor(t *testing.T) {
	cfg := FromEnv()
	if got := cfg.TTLFor("parking"); got != 5*time.Minute {
		t.Fatalf("parking ttl=%v want 5m override", got)
	}
	if got := cfg.TTLFor("crowd"); got != 10*time.Minute {
		t.Fatalf("crowd ttl=%v want default", got)
	}
}

func TestRefreshIntervalFor(t *testing.T) {
	t.Setenv("REFRESH_INTERVAL_OVERRIDES", "transit=2m")

	cfg := FromEnv()
	if got := cfg.RefreshIntervalFor("transit"); got != 2*time.Minute {
		t.Fatalf("transit interval=%v", got)
	}
	if got := cfg.RefreshIntervalFor("crowd"); got != cfg.RefreshInterval {
		t.Fatalf("crowd interval=%v", got)
	}
}

func TestParseDurationMap(t *testing.T) {
	got := parseDurationMap(" crowd=10m, parking=5m ,bad, =3m, x=nope ")
	if len(got) != 2 {
		t.Fatalf("entries=%d want 2: %v", len(got), got)
	}
	if got["crowd"] != 10*time.Minute || got["parking"] != 5*time.Minute {
		t.Fatalf("map=%v", got)
	}
}

func TestParseList(t *testing.T) {
	got := parseList("a, b ,,c")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("list=%v", got)
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("FLAG_A", "true")
	t.Setenv("FLAG_B", "0")
	if !getbool("FLAG_A", false) || getbool("FLAG_B", true) {
		t.Fatal("getbool wrong")
	}
	if !getbool("FLAG_UNSET", true) {
		t.Fatal("default not applied")
	}
}
