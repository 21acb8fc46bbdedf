// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package web serves the admin HTTP surface: health checks and read-only
// JSON views of the poll schedule.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"redditwatch/internal/poll"
	"redditwatch/internal/registry"
	"redditwatch/internal/version"
)

// Config configures a [Server]. Addr, Registry, States, Queue and Engine
// are required.
type Config struct {
	// Addr is the address to listen on, like "localhost:8080".
	Addr string

	Registry *registry.Registry
	States   *poll.StateStore
	Queue    *poll.DueQueue
	Engine   *poll.Engine

	// Logger specifies a logger to use. If nil, slog.Default is used.
	Logger *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	cfg    Config
	slog   *slog.Logger
	router *mux.Router
	health *HealthHandler
}

func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		slog:   cfg.Logger,
		router: mux.NewRouter(),
		health: newHealthHandler(),
	}
	if s.slog == nil {
		s.slog = slog.Default()
	}

	s.router.Handle("/health", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/api/feeds", s.handleFeeds).Methods(http.MethodGet)
	s.router.HandleFunc("/api/feeds/{key}", s.handleFeed).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, errors.New("not found"))
	})
	return s
}

// Health returns the server's health handler, for registering subsystem
// checks.
func (s *Server) Health() *HealthHandler { return s.health }

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves the admin surface until ctx is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.slog.Info("admin server listening", "addr", l.Addr().String())

	srv := &http.Server{
		Handler:      s,
		BaseContext:  func(net.Listener) context.Context { return ctx },
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.slog.Info("admin server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// feedView is one feed in the /api/feeds response.
type feedView struct {
	FeedKey     string     `json:"feed_key"`
	Subscribers int        `json:"subscribers"`
	State       poll.State `json:"state"`
	Queued      bool       `json:"queued"`
}

func (s *Server) feedView(ctx context.Context, st poll.State) (feedView, error) {
	subs, err := s.cfg.Registry.Subscribers(ctx, st.FeedKey)
	if err != nil {
		return feedView{}, err
	}
	return feedView{
		FeedKey:     st.FeedKey,
		Subscribers: len(subs),
		State:       st,
		Queued:      s.cfg.Queue.Contains(st.FeedKey),
	}, nil
}

func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	states, err := s.cfg.States.All(r.Context())
	if err != nil {
		s.respondInternalError(w, r, err)
		return
	}
	slices.SortFunc(states, func(a, b poll.State) int {
		return strings.Compare(a.FeedKey, b.FeedKey)
	})

	views := make([]feedView, 0, len(states))
	for _, st := range states {
		v, err := s.feedView(r.Context(), st)
		if err != nil {
			s.respondInternalError(w, r, err)
			return
		}
		views = append(views, v)
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	st, ok, err := s.cfg.States.Get(r.Context(), key)
	if err != nil {
		s.respondInternalError(w, r, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("feed is not tracked"))
		return
	}
	v, err := s.feedView(r.Context(), st)
	if err != nil {
		s.respondInternalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, struct {
		Version string     `json:"version"`
		Status  string     `json:"status"`
		Queued  int        `json:"queued"`
		Stats   poll.Stats `json:"stats"`
	}{
		Version: version.Version().Version,
		Status:  s.cfg.Engine.Status().String(),
		Queued:  s.cfg.Queue.Len(),
		Stats:   s.cfg.Engine.Stats(),
	})
}

func (s *Server) respondInternalError(w http.ResponseWriter, r *http.Request, err error) {
	s.slog.Error("handling admin request", "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, errors.New("internal server error"))
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	e.Encode(v)
}

func respondError(w http.ResponseWriter, code int, err error) {
	respondJSON(w, code, struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}{
		Status: "error",
		Error:  err.Error(),
	})
}
