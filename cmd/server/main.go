package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hyeonsu-kim/citypulse/internal/cache/redisstore"
	"github.com/hyeonsu-kim/citypulse/internal/cache/safecache"
	"github.com/hyeonsu-kim/citypulse/internal/core/config"
	"github.com/hyeonsu-kim/citypulse/internal/core/httpclient"
	"github.com/hyeonsu-kim/citypulse/internal/core/observability"
	"github.com/hyeonsu-kim/citypulse/internal/core/server"
	"github.com/hyeonsu-kim/citypulse/internal/fetcher"
	"github.com/hyeonsu-kim/citypulse/internal/history"
	histpg "github.com/hyeonsu-kim/citypulse/internal/history/pgstore"
	histredis "github.com/hyeonsu-kim/citypulse/internal/history/redisstore"
	"github.com/hyeonsu-kim/citypulse/internal/invalidation/kafkaconsumer"
	"github.com/hyeonsu-kim/citypulse/internal/logger"
	"github.com/hyeonsu-kim/citypulse/internal/metrics"
	"github.com/hyeonsu-kim/citypulse/internal/ranking"
	"github.com/hyeonsu-kim/citypulse/internal/refdata"
	"github.com/hyeonsu-kim/citypulse/internal/refresher"
	"github.com/hyeonsu-kim/citypulse/internal/snapshot"
)

var Version = "dev"

// upstreamPath maps a domain to its provider dataset path.
var upstreamPath = map[string]string{
	"crowd":   "citydata_ppltn/1/5",
	"transit": "citydata/1/5",
	"parking": "GetParkingInfo/1/1000",
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), true)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 1
	}

	appLog.Info("starting citypulse",
		"addr", cfg.Addr,
		"version", Version,
		"domains", cfg.Domains,
		"history_driver", cfg.History.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One shared Redis handle: the snapshot cache and the Redis history
	// store both ride on it. A failed dial is retried at most once per
	// backoff window.
	lazy := redisstore.NewLazy(cfg.RedisAddr, cfg.CacheDialBackoff)
	defer func() { _ = lazy.Close() }()

	cacheStore := safecache.New(lazy, cfg.CacheOpTimeout, zl)

	var hist history.Store
	switch cfg.History.Driver {
	case "postgres":
		pg, err := histpg.New(ctx, cfg.History.PostgresDSN, cfg.History.Retention, zl)
		if err != nil {
			appLog.Error("postgres history init failed", "err", err)
			return 1
		}
		defer func() { _ = pg.Close() }()
		go pg.PurgeLoop(ctx, time.Hour)
		hist = pg
	default:
		hist = histredis.New(lazy, cfg.History.Retention)
	}

	poiReg, err := refdata.Load(cfg.RefDataPath)
	if err != nil {
		appLog.Warn("reference data unavailable, using built-in districts",
			"path", cfg.RefDataPath, "err", err)
		poiReg = refdata.Districts()
	}
	districtReg := refdata.Districts()

	fc := fetcher.New(httpclient.NewOutbound(), cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, cfg.FetchTimeout)

	stores := make(map[string]*snapshot.Store, len(cfg.Domains))
	registries := make(map[string]*refdata.Registry, len(cfg.Domains))
	for _, domain := range cfg.Domains {
		path, ok := upstreamPath[domain]
		if !ok {
			appLog.Error("no upstream path for domain", "domain", domain)
			return 1
		}
		reg := poiReg
		if domain == "parking" {
			reg = districtReg
		}
		registries[domain] = reg
		stores[domain] = snapshot.New(snapshot.Config{
			Domain:    domain,
			Path:      path,
			TTL:       cfg.TTLFor(domain),
			BatchSize: cfg.RefreshBatchSize,
		}, reg, cacheStore, fc, hist, zl)
	}

	for _, domain := range cfg.Domains {
		r := refresher.New(stores[domain], refresher.Config{
			Interval:        cfg.RefreshIntervalFor(domain),
			HistoryInterval: cfg.HistoryInterval,
			BatchSize:       cfg.RefreshBatchSize,
		}, zl)
		go r.Run(ctx)
	}

	rank := ranking.New(hist, registries[cfg.RankingDomain], ranking.Config{
		Domain:      cfg.RankingDomain,
		SampleLimit: cfg.RankingSampleLimit,
		CacheSize:   cfg.RankingCacheSize,
		CacheTTL:    cfg.RankingCacheTTL,
	})

	if cfg.Invalidation.Enabled {
		kc := kafkaconsumer.New(
			kafkaconsumer.NewConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID),
			appLog, cacheStore, registries)
		go func() {
			if err := kc.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	err = server.Run(ctx, server.Deps{
		Config:         cfg,
		Logger:         appLog,
		Stores:         stores,
		History:        hist,
		Ranking:        rank,
		MetricsHandler: p.Handler(),
		Ready:          lazy,
	})
	if err != nil {
		appLog.Error("server error", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}
