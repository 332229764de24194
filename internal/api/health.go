package api

import (
	"net/http"
)

type healthResponse struct {
	Status   string   `json:"status"`
	Strategy string   `json:"strategy"`
	Runners  []string `json:"runners"`
	Sink     string   `json:"sink"`
}

// handleHealthz reports 503 when no runner is registered, since no execution
// could be accepted.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	infos := s.engine.Registry().List()
	resp := healthResponse{
		Status:   "ok",
		Strategy: string(s.engine.Strategy()),
		Runners:  make([]string, 0, len(infos)),
		Sink:     s.engine.Sink().Name(),
	}
	for _, info := range infos {
		resp.Runners = append(resp.Runners, info.Name)
	}

	status := http.StatusOK
	if len(resp.Runners) == 0 {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
