package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/drafter/internal/engine"
	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
	"github.com/seantiz/drafter/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 8 << 20 // 8 MB, room for a base64 code archive
)

// createExecutionRequest is the JSON body for POST /v1/executions.
type createExecutionRequest struct {
	Runtime   string `json:"runtime"`
	Isolation string `json:"isolation"`
	Code      string `json:"code"`
	// CodeArchive is a gzipped tar of supporting files; encoding/json
	// decodes it from base64.
	CodeArchive []byte            `json:"code_archive"`
	Filename    string            `json:"filename"`
	Format      string            `json:"format"`
	TimeoutS    *float64          `json:"timeout_s"`
	Env         map[string]string `json:"env"`
}

// listExecutionsResponse wraps the paginated list response.
type listExecutionsResponse struct {
	Executions []*model.Execution `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// decodeExecutionRequest parses and validates the body, allocating a fresh
// execution ID and workdir. On failure it has already written the response.
func (s *Server) decodeExecutionRequest(w http.ResponseWriter, r *http.Request) (string, engine.ExecutionRequest, bool) {
	var body createExecutionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", engine.ExecutionRequest{}, false
	}

	timeoutS := s.opts.DefaultTimeoutS
	if body.TimeoutS != nil {
		timeoutS = *body.TimeoutS
	}
	if s.opts.MaxTimeoutS > 0 && timeoutS > s.opts.MaxTimeoutS {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("timeout_s %v exceeds the maximum of %v", timeoutS, s.opts.MaxTimeoutS))
		return "", engine.ExecutionRequest{}, false
	}

	id := model.NewID()
	req, err := engine.NewExecutionRequest(sandbox.Payload{
		Runtime:     body.Runtime,
		Code:        body.Code,
		CodeArchive: body.CodeArchive,
		Filename:    body.Filename,
		Format:      body.Format,
		Env:         body.Env,
	}, timeoutS, filepath.Join(s.opts.WorkspaceDir, id), body.Isolation)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
		} else {
			s.logger.Error("build execution request", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to build execution request")
		}
		return "", engine.ExecutionRequest{}, false
	}
	return id, req, true
}

// handleCreateExecution runs an execution synchronously and responds with
// the finished record. The record's status carries the result; the response
// code is 200 for every resolved execution.
func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeExecutionRequest(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(req.Timeout + syncWriteSlack)); err != nil {
		s.logger.Debug("extend write deadline for sync execution", "error", err)
	}

	rec, err := s.engine.Run(r.Context(), id, req)
	if err != nil {
		s.logger.Error("run execution", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to run execution")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAsyncExecution(w http.ResponseWriter, r *http.Request) {
	id, req, ok := s.decodeExecutionRequest(w, r)
	if !ok {
		return
	}

	rec, err := s.engine.Submit(r.Context(), id, req)
	if err != nil {
		s.logger.Error("submit async execution", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit execution")
		return
	}

	w.Header().Set("Location", "/v1/executions/"+rec.ID)
	s.writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupExecution(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	executions, total, err := s.store.ListExecutions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if executions == nil {
		executions = []*model.Execution{}
	}

	s.writeJSON(w, http.StatusOK, listExecutionsResponse{
		Executions: executions,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.engine.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	case errors.Is(err, engine.ErrFinished), errors.Is(err, engine.ErrNotCancelable):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("cancel execution", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel execution")
		return
	}

	rec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		s.logger.Error("get canceled execution", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve execution")
		return
	}
	s.writeJSON(w, http.StatusAccepted, rec)
}

// lookupExecution loads the execution named by the {id} URL parameter. On
// failure it has already written the response.
func (s *Server) lookupExecution(w http.ResponseWriter, r *http.Request) (*model.Execution, bool) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get execution", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return nil, false
	}
	return rec, true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
