package engine

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
)

// ExecutionResult is the normalized result of one request.
type ExecutionResult struct {
	Status       string `json:"status"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Error        string `json:"error_message,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Trace        string `json:"trace,omitempty"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	Signal       string `json:"signal,omitempty"`
}

// Resolution is how the Coordinator resolved a request. Exactly one of
// Outcome, TimedOut, Canceled or Err describes it; Err may accompany
// TimedOut when termination failed.
type Resolution struct {
	Outcome  *sandbox.WorkerOutcome
	TimedOut bool
	Canceled bool
	Timeout  time.Duration
	Err      error
}

// Normalize maps a resolution to an ExecutionResult. It has no side effects.
func Normalize(r Resolution) ExecutionResult {
	switch {
	case r.TimedOut && r.Err != nil:
		return ExecutionResult{
			Status:    model.StatusFailed,
			ErrorKind: model.ErrorKindIsolation,
			Error:     fmt.Sprintf("%s; worker could not be stopped: %v", timeoutMessage(r.Timeout), r.Err),
		}
	case r.TimedOut:
		return ExecutionResult{
			Status:    model.StatusTimedOut,
			ErrorKind: model.ErrorKindTimeout,
			Error:     timeoutMessage(r.Timeout),
		}
	case r.Canceled:
		msg := "execution canceled"
		if r.Err != nil {
			msg = fmt.Sprintf("%s; worker could not be stopped: %v", msg, r.Err)
		}
		return ExecutionResult{
			Status:    model.StatusFailed,
			ErrorKind: model.ErrorKindCanceled,
			Error:     msg,
		}
	case r.Err != nil:
		return ExecutionResult{
			Status:    model.StatusFailed,
			ErrorKind: model.ErrorKindIsolation,
			Error:     isolationMessage(r.Err),
		}
	case r.Outcome == nil:
		return ExecutionResult{
			Status:    model.StatusFailed,
			ErrorKind: model.ErrorKindIsolation,
			Error:     "worker produced no outcome",
		}
	}

	o := r.Outcome
	switch o.Kind {
	case sandbox.Success:
		return ExecutionResult{
			Status:       model.StatusOK,
			ArtifactPath: o.ArtifactPath,
			ExitCode:     o.ExitCode,
		}
	case sandbox.Crashed:
		msg := o.Message
		if msg == "" {
			msg = "worker crashed"
		}
		return ExecutionResult{
			Status:    model.StatusFailed,
			ErrorKind: model.ErrorKindCrashed,
			Error:     msg,
			Trace:     o.Trace,
			ExitCode:  o.ExitCode,
			Signal:    o.Signal,
		}
	default:
		msg := o.Message
		if msg == "" {
			msg = "diagram generation failed"
			if o.ExitCode != nil {
				msg += " with exit code " + strconv.Itoa(*o.ExitCode)
			}
		}
		return ExecutionResult{
			Status:    model.StatusFailed,
			ErrorKind: model.ErrorKindRuntime,
			Error:     msg,
			Trace:     o.Trace,
			ExitCode:  o.ExitCode,
		}
	}
}

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf("diagram generation timed out after %s", d)
}

// isolationMessage prefixes err unless it already wraps sandbox.ErrIsolation.
func isolationMessage(err error) string {
	if errors.Is(err, sandbox.ErrIsolation) {
		return err.Error()
	}
	return sandbox.ErrIsolation.Error() + ": " + err.Error()
}
