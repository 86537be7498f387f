package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/curbz/skycargo/internal/eventloop"
	"github.com/curbz/skycargo/internal/logging"
	"github.com/curbz/skycargo/internal/metrics"
	"github.com/curbz/skycargo/internal/model"
	"github.com/curbz/skycargo/internal/session"
	"github.com/curbz/skycargo/internal/world"
)

var errLoopStopped = errors.New("event loop stopped")

// onLoop runs fn on the event loop and waits for its result.
func onLoop[T any](ctx context.Context, loop *eventloop.Loop, fn func() T) (T, error) {
	var zero T
	out := make(chan T, 1)
	if !loop.Post(func() { out <- fn() }) {
		return zero, errLoopStopped
	}
	select {
	case v := <-out:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type playerView struct {
	model.Player
	Current *model.PlaneState `json:"current,omitempty"`
}

func newDebugRouter(loop *eventloop.Loop, reg *metrics.Registry, w *world.Reconciler, sessions *session.Store, sessionID string) http.Handler {
	log := logging.For("debug")
	r := chi.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(reg.Prometheus, promhttp.HandlerOpts{}))

	r.Get("/debug/players", func(rw http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		views, err := onLoop(ctx, loop, func() []playerView {
			players := w.Players()
			out := make([]playerView, 0, len(players))
			for _, p := range players {
				v := playerView{Player: p}
				if cur, ok := w.CurrentPlane(p.ID); ok {
					v.Current = &cur
				}
				out = append(out, v)
			}
			return out
		})
		writeJSON(rw, views, err, log)
	})

	r.Get("/debug/airports", func(rw http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		airports, err := onLoop(ctx, loop, w.Airports)
		writeJSON(rw, airports, err, log)
	})

	r.Get("/debug/session", func(rw http.ResponseWriter, req *http.Request) {
		snap, ok := sessions.Load(sessionID)
		if !ok {
			http.Error(rw, "session expired", http.StatusNotFound)
			return
		}
		snap.Credential = ""
		writeJSON(rw, snap, nil, log)
	})

	return r
}

func writeJSON(rw http.ResponseWriter, v any, err error, log *logrus.Entry) {
	if err != nil {
		log.WithError(err).Warn("debug view unavailable")
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.WithError(err).Warn("error writing debug view")
	}
}
