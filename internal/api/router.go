package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/values", s.handleListValues)
		r.Get("/values/{device}/{status}", s.handleGetValue)
		r.Get("/groups", s.handleListGroups)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// valueBody is the JSON shape of one live value.
type valueBody struct {
	Device      string          `json:"device"`
	Status      string          `json:"status"`
	Unit        string          `json:"unit"`
	Value       decimal.Decimal `json:"value"`
	UnixSeconds int64           `json:"unix_seconds"`
}

// groupBody is the JSON shape of one group with its current sum.
type groupBody struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Unit  string          `json:"unit"`
	Sum   decimal.Decimal `json:"sum"`
}

// handleHealth reports process and storage health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}

	writeJSON(w, http.StatusOK, body)
}

// handleListValues returns every cached live value.
func (s *Server) handleListValues(w http.ResponseWriter, _ *http.Request) {
	entries := s.disp.Values()
	body := make([]valueBody, 0, len(entries))
	for _, e := range entries {
		body = append(body, valueBody{
			Device:      e.Device,
			Status:      e.Status,
			Unit:        e.Unit,
			Value:       e.Value,
			UnixSeconds: e.UnixSeconds,
		})
	}
	writeJSON(w, http.StatusOK, body)
}

// handleGetValue returns one live value by display key.
func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	status := chi.URLParam(r, "status")

	e, ok := s.disp.Value(device, status)
	if !ok {
		writeError(w, http.StatusNotFound, "no value for "+device+"/"+status)
		return
	}

	writeJSON(w, http.StatusOK, valueBody{
		Device:      e.Device,
		Status:      e.Status,
		Unit:        e.Unit,
		Value:       e.Value,
		UnixSeconds: e.UnixSeconds,
	})
}

// handleListGroups returns every configured group with its live sum.
func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.holder.Current().Groups()
	body := make([]groupBody, 0, len(groups))
	for _, g := range groups {
		body = append(body, groupBody{
			ID:    g.ID,
			Title: g.Title,
			Unit:  g.Unit,
			Sum:   s.disp.GroupSum(g.ID),
		})
	}
	writeJSON(w, http.StatusOK, body)
}
