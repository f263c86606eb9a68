package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// MatrixOnRequest is the optional body of POST /matrix/on. Either all three
// channels are given or none, in which case the stored colour is reused.
type MatrixOnRequest struct {
	R *int `json:"r"`
	G *int `json:"g"`
	B *int `json:"b"`
}

// BrightnessRequest is the body of PUT /matrix/brightness.
type BrightnessRequest struct {
	Level *int `json:"level"`
}

// PumpOnRequest is the optional body of POST /pump/on.
type PumpOnRequest struct {
	// Duration in seconds; the configured pulse when absent.
	Duration *float64 `json:"duration"`
}

// PumpResponse reports the pump state and its scheduled auto-off.
type PumpResponse struct {
	On    bool       `json:"on"`
	OffAt *time.Time `json:"off_at,omitempty"`
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// rgb converts the request into a colour. It returns nil when no channel
// was given.
func (m MatrixOnRequest) rgb() (*device.RGB, error) {
	if m.R == nil && m.G == nil && m.B == nil {
		return nil, nil
	}
	if m.R == nil || m.G == nil || m.B == nil {
		return nil, fmt.Errorf("r, g and b must be given together")
	}
	for _, c := range []int{*m.R, *m.G, *m.B} {
		if c < 0 || c > 255 {
			return nil, fmt.Errorf("colour channel %d outside [0, 255]", c)
		}
	}
	return &device.RGB{R: uint8(*m.R), G: uint8(*m.G), B: uint8(*m.B)}, nil
}

// handleActuators returns the committed state of every actuator.
func (s *Server) handleActuators(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Actuators())
}

func (s *Server) handleMatrixOn(w http.ResponseWriter, r *http.Request) {
	var req MatrixOnRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rgb, err := req.rgb()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.controller.SetMatrix(apiContext(r), true, rgb); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Matrix())
}

func (s *Server) handleMatrixOff(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.SetMatrix(apiContext(r), false, nil); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Matrix())
}

func (s *Server) handleMatrixPresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presets": device.Presets()})
}

func (s *Server) handleMatrixColor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.controller.SetMatrixColorPreset(apiContext(r), name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Matrix())
}

func (s *Server) handleMatrixBrightness(w http.ResponseWriter, r *http.Request) {
	var req BrightnessRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Level == nil {
		writeBadRequest(w, "level is required")
		return
	}

	applied, err := s.controller.SetBrightness(apiContext(r), *req.Level)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requested": *req.Level,
		"applied":   applied,
		"matrix":    s.store.Matrix(),
	})
}

func (s *Server) handleFan(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.controller.SetFan(apiContext(r), on); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, device.FanState{On: s.store.FanOn()})
	}
}

func (s *Server) handlePumpOn(w http.ResponseWriter, r *http.Request) {
	var req PumpOnRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	d := s.pumpPulse
	if req.Duration != nil {
		d = time.Duration(*req.Duration * float64(time.Second))
	}

	if err := s.controller.TriggerPump(apiContext(r), d); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pumpResponse())
}

func (s *Server) handlePumpOff(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.SetPump(apiContext(r), false); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pumpResponse())
}

func (s *Server) pumpResponse() PumpResponse {
	resp := PumpResponse{On: s.store.PumpOn()}
	if at, ok := s.controller.PumpOffPending(); ok {
		resp.OffAt = &at
	}
	return resp
}

// apiContext tags the request context as an API-originated change.
func apiContext(r *http.Request) context.Context {
	return device.WithSource(r.Context(), device.SourceAPI)
}
