package api

import (
	"net/http"

	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/sandbox"
)

// capabilitiesResponse is the JSON response for GET /v1/capabilities.
type capabilitiesResponse struct {
	Strategy           string               `json:"strategy"`
	InterruptSupported bool                 `json:"interrupt_supported"`
	Runners            []sandbox.RunnerInfo `json:"runners"`
	Sink               string               `json:"sink"`
	DefaultTimeoutS    float64              `json:"default_timeout_s"`
	MaxTimeoutS        float64              `json:"max_timeout_s"`
}

func (s *Server) handleGetCapabilities(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, capabilitiesResponse{
		Strategy:           string(s.engine.Strategy()),
		InterruptSupported: deadline.InterruptSupported(),
		Runners:            s.engine.Registry().List(),
		Sink:               s.engine.Sink().Name(),
		DefaultTimeoutS:    s.opts.DefaultTimeoutS,
		MaxTimeoutS:        s.opts.MaxTimeoutS,
	})
}
