package api

import (
	"net/http"

	"github.com/nerrad567/terrarium-core/internal/device"
)

func (s *Server) handleGetAuto(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.AutoControl())
}

// handleUpdateTargets applies a partial target update. Fields left out of
// the body keep their value; an invalid result changes nothing.
func (s *Server) handleUpdateTargets(w http.ResponseWriter, r *http.Request) {
	var patch device.TargetsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if patch.Empty() {
		writeBadRequest(w, "no targets given")
		return
	}

	cfg, err := s.store.UpdateTargets(apiContext(r), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetAuto(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := s.store.SetAutoEnabled(apiContext(r), enabled)
		s.logger.Info("auto control toggled", "enabled", enabled, "subject", subjectFrom(r.Context()))
		writeJSON(w, http.StatusOK, cfg)
	}
}
