package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/drafter/internal/model"
)

const sseHeartbeat = 15 * time.Second

func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupExecution(w, r)
	if !ok {
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// A finished execution has nothing left to stream; history holds its lines.
	if model.IsTerminal(rec.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", rec.Status)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe on a topic closed since the status check returns a closed
	// channel, so the loop below exits at once.
	ch, unsub := s.engine.Broker().Subscribe(rec.ID)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", s.finalStatus(rec.ID))
				_ = rc.Flush()
				return
			}
			if err := writeSSEData(w, line); err != nil {
				return
			}
			_ = rc.Flush()
		case <-heartbeat.C:
			// SSE comment line; clients discard it.
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// logHistoryLine is a single log line in the history response.
type logHistoryLine struct {
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

// logHistoryResponse is the JSON response for GET /v1/executions/{id}/logs/history.
type logHistoryResponse struct {
	ExecutionID string           `json:"execution_id"`
	Status      string           `json:"status"`
	Lines       []logHistoryLine `json:"lines"`
}

// finalStatus reads the recorded status once a stream closes. The engine
// records the result before it closes the topic.
func (s *Server) finalStatus(id string) string {
	rec, err := s.store.GetExecution(context.Background(), id)
	if err != nil {
		return "unknown"
	}
	return rec.Status
}

func (s *Server) handleGetLogHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookupExecution(w, r)
	if !ok {
		return
	}

	logLines, err := s.store.GetLogLines(r.Context(), rec.ID)
	if err != nil {
		s.logger.Error("get log lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get log lines")
		return
	}

	lines := make([]logHistoryLine, len(logLines))
	for i, l := range logLines {
		lines[i] = logHistoryLine{
			Seq:       l.Seq,
			Line:      l.Line,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, logHistoryResponse{
		ExecutionID: rec.ID,
		Status:      rec.Status,
		Lines:       lines,
	})
}

// writeSSEData writes a log line as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix, as SSE requires.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
