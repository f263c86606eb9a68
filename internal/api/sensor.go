package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/sensor"
)

// parseLimit reads the optional ?limit= query parameter. Zero means the
// repository default.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleSensorLatest(w http.ResponseWriter, _ *http.Request) {
	if s.poller == nil {
		writeUnavailable(w, "sensor polling is disabled")
		return
	}
	reading, ok := s.poller.Latest()
	if !ok {
		writeNotFound(w, "no reading yet")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	if s.readings == nil {
		writeUnavailable(w, "reading history is not available")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}

	readings, err := s.readings.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing readings failed", "error", err)
		writeInternalError(w, "listing readings failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": readings,
		"count":    len(readings),
	})
}

// handleSensorUpload re-sends the latest reading to the persistence sinks
// and waits for the result.
func (s *Server) handleSensorUpload(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeUnavailable(w, "sensor polling is disabled")
		return
	}

	reading, err := s.poller.Upload(r.Context())
	switch {
	case errors.Is(err, sensor.ErrNoReading):
		writeNotFound(w, "no reading yet")
	case err != nil:
		s.logger.Warn("manual upload failed", "reading_id", reading.ID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadAck, "upload failed: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"uploaded": reading})
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "actuator history is not available")
		return
	}

	var actuator device.Actuator
	if raw := r.URL.Query().Get("actuator"); raw != "" {
		a, ok := device.ParseActuator(raw)
		if !ok {
			writeBadRequest(w, "unknown actuator: "+raw)
			return
		}
		actuator = a
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}

	events, err := s.events.Recent(r.Context(), actuator, limit)
	if err != nil {
		s.logger.Error("listing actuator events failed", "error", err)
		writeInternalError(w, "listing actuator events failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
