// Package server wires the HTTP surface: per-domain snapshot reads, history
// ranges, rankings, proximity search, and the operational probes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyeonsu-kim/citypulse/internal/core/config"
	"github.com/hyeonsu-kim/citypulse/internal/core/health"
	"github.com/hyeonsu-kim/citypulse/internal/core/middleware"
	"github.com/hyeonsu-kim/citypulse/internal/history"
	"github.com/hyeonsu-kim/citypulse/internal/ranking"
	"github.com/hyeonsu-kim/citypulse/internal/snapshot"
)

// Deps carries everything the router needs. All fields except Ready and
// MetricsHandler are required.
type Deps struct {
	Config         config.Config
	Logger         *slog.Logger
	Stores         map[string]*snapshot.Store
	History        history.Store
	Ranking        *ranking.Aggregator
	MetricsHandler http.Handler
	Ready          health.Pinger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	if d.MetricsHandler != nil {
		r.Get("/metrics", d.MetricsHandler.ServeHTTP)
	}

	h := &api{deps: d}
	r.Route("/api", func(r chi.Router) {
		r.Get("/rankings", h.wrap("/api/rankings", h.rankings))
		r.Route("/{domain}", func(r chi.Router) {
			r.Get("/", h.wrap("/api/{domain}", h.listSnapshots))
			r.Get("/nearby", h.wrap("/api/{domain}/nearby", h.nearby))
			r.Get("/{id}", h.wrap("/api/{domain}/{id}", h.getSnapshot))
			r.Get("/{id}/history", h.wrap("/api/{domain}/{id}/history", h.entityHistory))
		})
	})
	return r
}

// Run serves until ctx is cancelled.
func Run(ctx context.Context, d Deps) error {
	srv := &http.Server{
		Addr:              d.Config.Addr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("http listen", "addr", d.Config.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
