package live

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/joulia/joulia-live/internal/apierr"
	"github.com/joulia/joulia-live/internal/telemetry"
)

// IngestRequest is the POST /v1/timeseries request body.
type IngestRequest struct {
	RecipeInstance int64           `json:"recipe_instance"`
	Sensor         int64           `json:"sensor"`
	Value          json.RawMessage `json:"value"`
	Time           *string         `json:"time,omitempty"` // ISO-8601, UTC when no offset is given
}

// handleIngest records one measurement for clients without a streaming
// connection. Every subscriber of the stream receives it.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	p := s.svc.Bridge().ResolveRequest(r)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, fmt.Errorf("decode body: %v: %w", err, apierr.ErrMalformedMessage))
		return
	}
	if req.RecipeInstance <= 0 || req.Sensor <= 0 {
		writeAPIError(w, fmt.Errorf("recipe_instance and sensor are required: %w", apierr.ErrMalformedMessage))
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	at, err := parseTime(req.Time)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	m := telemetry.Measurement{RecipeInstance: req.RecipeInstance, Sensor: req.Sensor, Time: at, Value: value}

	stored, err := s.svc.Record(r.Context(), p, "", m)
	if err != nil {
		measurementsRecordedTotal.WithLabelValues("http", apierr.Code(err)).Inc()
		writeAPIError(w, err)
		return
	}
	measurementsRecordedTotal.WithLabelValues("http", "ok").Inc()
	writeJSON(w, http.StatusCreated, stored)
}

// handleIssueTicket exchanges the caller's credentials for a single-use
// WebSocket ticket, for browser clients that cannot set headers on a
// WebSocket handshake.
// POST /v1/ws/ticket
func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	p := s.svc.Bridge().ResolveRequest(r)
	if !p.Authenticated() {
		writeAPIError(w, apierr.ErrUnauthenticated)
		return
	}
	tickets := s.svc.Bridge().Tickets()
	if tickets == nil {
		writeAPIError(w, fmt.Errorf("tickets are disabled: %w", apierr.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket": tickets.Issue(p)})
}

// POST /v1/brewhouses/{id}/launch
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	brewhouse, err := pathID(r, "id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	ri, err := s.svc.LaunchRecipeInstance(s.svc.Bridge().ResolveRequest(r), brewhouse)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ri)
}

// POST /v1/recipe-instances/{id}/end
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	ri, err := s.svc.EndRecipeInstance(s.svc.Bridge().ResolveRequest(r), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ri)
}

// GET /v1/brewhouses/{id}/controller
func (s *Server) handleController(w http.ResponseWriter, r *http.Request) {
	brewhouse, err := pathID(r, "id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	st, err := s.svc.Controller(s.svc.Bridge().ResolveRequest(r), brewhouse)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
