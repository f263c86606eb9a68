package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/link"
	"github.com/nerrad567/terrarium-core/internal/sensor"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version          string                   `json:"version"`
	UptimeSeconds    int64                    `json:"uptime_seconds"`
	Actuators        device.ActuatorState     `json:"actuators"`
	AutoControl      device.AutoControlConfig `json:"auto_control"`
	Latest           *device.Reading          `json:"latest_reading,omitempty"`
	Poller           *sensor.Status           `json:"poller,omitempty"`
	Link             *link.Stats              `json:"link,omitempty"`
	PumpOffAt        *time.Time               `json:"pump_off_at,omitempty"`
	WebSocketClients int                      `json:"websocket_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:          s.version,
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		Actuators:        s.store.Actuators(),
		AutoControl:      s.store.AutoControl(),
		WebSocketClients: s.hub.ClientCount(),
	}
	if s.poller != nil {
		status := s.poller.Status()
		resp.Poller = &status
		if reading, ok := s.poller.Latest(); ok {
			resp.Latest = &reading
		}
	}
	if s.link != nil {
		stats := s.link.Stats()
		resp.Link = &stats
	}
	if at, ok := s.controller.PumpOffPending(); ok {
		resp.PumpOffAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}
