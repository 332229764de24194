package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByRuntime     map[string]int `json:"by_runtime"`
	ByErrorKind   map[string]int `json:"by_error_kind"`
	ByStrategy    map[string]int `json:"by_strategy"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetExecutionStats(r.Context())
	if err != nil {
		s.logger.Error("get execution stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByRuntime:     stats.CountByRuntime,
		ByErrorKind:   stats.CountByErrorKind,
		ByStrategy:    stats.CountByStrategy,
		AvgDurationMS: stats.AvgDurationMS,
	})
}
