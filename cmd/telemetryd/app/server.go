package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roman-kulish/launch-telemetry/internal/cache"
	"github.com/roman-kulish/launch-telemetry/internal/pipeline"
	"github.com/roman-kulish/launch-telemetry/internal/publish"
	"github.com/roman-kulish/launch-telemetry/internal/storage"
	"github.com/roman-kulish/launch-telemetry/internal/telemetry"
)

const (
	defaultReadingsLimit = 1000
	maxReadingsLimit     = 10000

	cacheEvent    = "event"
	cacheReadings = "readings"
)

// deviceService is the part of a pipeline exposed over HTTP.
type deviceService interface {
	Stats() pipeline.Stats
	Recent(n int) []telemetry.EnrichedRecord
	Reconnect()
}

type server struct {
	devices  map[string]deviceService
	store    storage.Store
	cache    *cache.Cache[any]
	hub      *publish.Hub
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

func newServer(devices map[string]deviceService, store storage.Store, c *cache.Cache[any], hub *publish.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *server {
	return &server{
		devices:  devices,
		store:    store,
		cache:    c,
		hub:      hub,
		gatherer: gatherer,
		logger:   logger,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.handleDevices)

		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/", s.handleEvent)
			r.Post("/end", s.handleEndEvent)
			r.Get("/readings/{reference}", s.handleReadings)
		})

		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
		r.Delete("/cache/{name}", s.handleCacheInvalidate)

		r.Route("/{device}", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/recent", s.handleRecent)
			r.Post("/reconnect", s.handleReconnect)
		})
	})

	return r
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug(fmt.Sprintf("writing response: %s", err.Error()))
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func (s *server) device(w http.ResponseWriter, r *http.Request) (deviceService, bool) {
	name := chi.URLParam(r, "device")
	d, ok := s.devices[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown device %q", name))
	}
	return d, ok
}

func (s *server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.devices))
	for name := range s.devices {
		names = append(names, name)
	}
	slices.Sort(names)

	stats := make([]pipeline.Stats, len(names))
	for i, name := range names {
		stats[i] = s.devices[name].Stats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if d, ok := s.device(w, r); ok {
		s.writeJSON(w, http.StatusOK, d.Stats())
	}
}

func (s *server) handleRecent(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}

	var n int
	if v := r.URL.Query().Get("n"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid n: %q", v))
			return
		}
	}
	s.writeJSON(w, http.StatusOK, d.Recent(n))
}

func (s *server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if d, ok := s.device(w, r); ok {
		d.Reconnect()
		s.writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
	}
}

func eventID(r *http.Request) (int64, error) {
	v := chi.URLParam(r, "eventID")
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event ID: %q", v)
	}
	return id, nil
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	event, cached, err := s.cache.Do(cache.Key(cacheEvent, id), func() (any, error) {
		return s.store.Event(r.Context(), id)
	})
	if errors.Is(err, storage.ErrEventNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": event, "fromCache": cached})
}

func (s *server) handleEndEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err = s.store.EndEvent(r.Context(), id, time.Now()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrEventNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}

	s.cache.Invalidate(cacheEvent)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// readingsQuery doubles as the cache key of a readings request. A zero To
// means up to now.
type readingsQuery struct {
	EventID   int64     `json:"eventId"`
	Reference string    `json:"reference"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Limit     int       `json:"limit"`
}

func parseReadingsQuery(r *http.Request) (readingsQuery, error) {
	id, err := eventID(r)
	if err != nil {
		return readingsQuery{}, err
	}

	q := readingsQuery{
		EventID:   id,
		Reference: chi.URLParam(r, "reference"),
		From:      time.UnixMilli(0).UTC(),
		Limit:     defaultReadingsLimit,
	}

	values := r.URL.Query()
	if v := values.Get("from"); v != "" {
		if q.From, err = time.Parse(time.RFC3339, v); err != nil {
			return q, fmt.Errorf("invalid from: %w", err)
		}
	}
	if v := values.Get("to"); v != "" {
		if q.To, err = time.Parse(time.RFC3339, v); err != nil {
			return q, fmt.Errorf("invalid to: %w", err)
		}
	}
	if v := values.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit <= 0 || q.Limit > maxReadingsLimit {
			return q, fmt.Errorf("limit must be between 1 and %d", maxReadingsLimit)
		}
	}
	if !q.To.IsZero() && q.From.After(q.To) {
		return q, errors.New("from is after to")
	}

	return q, nil
}

func (s *server) handleReadings(w http.ResponseWriter, r *http.Request) {
	q, err := parseReadingsQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	readings, cached, err := s.cache.Do(cache.Key(cacheReadings, q), func() (any, error) {
		to := q.To
		if to.IsZero() {
			to = time.Now()
		}

		reader, err := s.store.ReadReadings(r.Context(), q.EventID, q.Reference,
			storage.WithTimeRange(q.From, to),
			storage.WithBatchSize(min(q.Limit, defaultReadingsLimit)))
		if err != nil {
			return nil, err
		}
		defer reader.Close()

		readings := make([]storage.Reading, 0)
		for len(readings) < q.Limit && reader.Next(r.Context()) {
			readings = append(readings, reader.Current())
		}
		return readings, reader.Error()
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": readings, "fromCache": cached})
}

func (s *server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.cache.Clear()
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	removed := s.cache.Invalidate(chi.URLParam(r, "name"))
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}
