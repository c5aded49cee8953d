package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type HistoryCfg struct {
	Driver      string // "redis" or "postgres"
	PostgresDSN string
	Retention   time.Duration
}

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr        string
	CacheOpTimeout   time.Duration
	CacheDialBackoff time.Duration
	CacheTTLDefault  time.Duration
	CacheTTLOvr      map[string]time.Duration

	UpstreamBaseURL string
	UpstreamAPIKey  string
	FetchTimeout    time.Duration

	Domains            []string
	RefDataPath        string
	RefreshInterval    time.Duration
	RefreshIntervalOvr map[string]time.Duration
	HistoryInterval    time.Duration
	RefreshBatchSize   int

	History HistoryCfg

	RankingDomain      string
	RankingSampleLimit int
	RankingCacheTTL    time.Duration
	RankingCacheSize   int

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	ttlDefault := getduration("CACHE_TTL_DEFAULT", 10*time.Minute)
	refresh := getduration("REFRESH_INTERVAL", 10*time.Minute)
	history := getduration("HISTORY_INTERVAL", 30*time.Minute)
	if history < refresh {
		// history cadence must be the strictly slower one
		history = refresh
	}

	return Config{
		Addr:     getenv("ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout:   getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheDialBackoff: getduration("CACHE_DIAL_BACKOFF", 15*time.Second),
		CacheTTLDefault:  ttlDefault,
		CacheTTLOvr:      parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "parking=5m")),

		UpstreamBaseURL: getenv("UPSTREAM_BASE_URL", "http://openapi.seoul.go.kr:8088"),
		UpstreamAPIKey:  getenv("UPSTREAM_API_KEY", ""),
		FetchTimeout:    getduration("FETCH_TIMEOUT", 15*time.Second),

		Domains:            parseList(getenv("DOMAINS", "crowd,transit,parking")),
		RefDataPath:        getenv("REFDATA_PATH", "areacode.csv"),
		RefreshInterval:    refresh,
		RefreshIntervalOvr: parseDurationMap(getenv("REFRESH_INTERVAL_OVERRIDES", "parking=5m")),
		HistoryInterval:    history,
		RefreshBatchSize:   getint("REFRESH_BATCH_SIZE", 20),

		History: HistoryCfg{
			Driver:      getenv("HISTORY_DRIVER", "redis"),
			PostgresDSN: getenv("HISTORY_POSTGRES_DSN", ""),
			Retention:   getduration("HISTORY_RETENTION", 30*24*time.Hour),
		},

		RankingDomain:      getenv("RANKING_DOMAIN", "crowd"),
		RankingSampleLimit: getint("RANKING_SAMPLE_LIMIT", 100),
		RankingCacheTTL:    getduration("RANKING_CACHE_TTL", time.Minute),
		RankingCacheSize:   getint("RANKING_CACHE_SIZE", 64),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "snapshot-invalidation"),
			GroupID: getenv("KAFKA_GROUP_ID", "snapshot-invalidator"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "crowd=10m,parking=5m" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}

// Validate rejects configurations that would only fail at request time.
func (c Config) Validate() error {
	if len(c.Domains) == 0 {
		return errors.New("config: DOMAINS is empty")
	}
	if !slices.Contains(c.Domains, c.RankingDomain) {
		return fmt.Errorf("config: RANKING_DOMAIN %q not in DOMAINS %v", c.RankingDomain, c.Domains)
	}
	switch c.History.Driver {
	case "redis", "postgres":
	default:
		return fmt.Errorf("config: unknown HISTORY_DRIVER %q", c.History.Driver)
	}
	return nil
}

// TTLFor returns the snapshot TTL for a domain.
func (c Config) TTLFor(domain string) time.Duration {
	if d, ok := c.CacheTTLOvr[domain]; ok {
		return d
	}
	return c.CacheTTLDefault
}

// RefreshIntervalFor returns the refresh cadence for a domain.
func (c Config) RefreshIntervalFor(domain string) time.Duration {
	if d, ok := c.RefreshIntervalOvr[domain]; ok {
		return d
	}
	return c.RefreshInterval
}
