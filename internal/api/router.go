package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/heatbridge/internal/bridge"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/devices", s.handleListDevices)
		r.Post("/refresh", s.handleRefresh)
		r.Put("/polling", s.handleSetPolling)

		r.Route("/devices/{id}", func(r chi.Router) {
			r.Post("/temperature", s.handleSetTemperature)
			r.Post("/power", s.handleSetPower)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns the read-only status panel payload.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

// handleListDevices returns all tracked devices with their last known
// attributes.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleRefresh triggers an immediate batch refresh ("Refresh Now").
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.TriggerRefresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshed": true})
}

// handleSetPolling updates the configured poll interval.
func (s *Server) handleSetPolling(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IntervalMinutes int `json:"interval_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.bridge.SetPollInterval(body.IntervalMinutes); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interval_minutes": body.IntervalMinutes,
	})
}

// handleSetTemperature forwards a setpoint command.
func (s *Server) handleSetTemperature(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Setpoint int `json:"setpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.bridge.SetTemperature(r.Context(), chi.URLParam(r, "id"), body.Setpoint)
	s.writeCommandResult(w, err)
}

// handleSetPower forwards a power command.
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Power string `json:"power"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var on bool
	switch body.Power {
	case "on":
		on = true
	case "off":
		on = false
	default:
		writeBadRequest(w, `power must be "on" or "off"`)
		return
	}

	err := s.bridge.SetPower(r.Context(), chi.URLParam(r, "id"), on)
	s.writeCommandResult(w, err)
}

// writeCommandResult maps command errors to HTTP responses.
func (s *Server) writeCommandResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
	case errors.Is(err, bridge.ErrInvalidSetpoint):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, bridge.ErrUnknownDevice):
		writeNotFound(w, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
