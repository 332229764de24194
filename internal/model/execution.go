package model

import "time"

// Execution status constants. pending and running are lifecycle states of a
// persisted record; ok, timed_out and failed are the terminal result statuses.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusOK       = "ok"
	StatusTimedOut = "timed_out"
	StatusFailed   = "failed"
)

// Error kind constants reported alongside a non-ok status.
const (
	ErrorKindTimeout   = "timeout_exceeded"
	ErrorKindRuntime   = "payload_runtime_error"
	ErrorKindCrashed   = "worker_crashed"
	ErrorKindIsolation = "isolation_failure"
	ErrorKindCanceled  = "canceled"
)

// Isolation mode constants.
const (
	IsolationProcess = "process"
	IsolationThread  = "thread"
	IsolationAuto    = "auto"
)

// Runtime constants.
const (
	RuntimeJS     = "js"
	RuntimePython = "python"
	RuntimeShell  = "shell"
)

// Artifact format constants.
const (
	FormatPNG = "png"
	FormatPDF = "pdf"
	FormatDOT = "dot"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusOK:       true,
		StatusTimedOut: true,
		StatusFailed:   true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final result status.
func IsTerminal(status string) bool {
	return status == StatusOK || status == StatusTimedOut || status == StatusFailed
}

// LogLine represents a single persisted log line from an execution.
type LogLine struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Seq         int       `json:"seq"`
	Line        string    `json:"line"`
	CreatedAt   time.Time `json:"created_at"`
}

// Execution is the persisted record of one diagram generation request.
type Execution struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Runtime      string     `json:"runtime"`
	Isolation    string     `json:"isolation"`
	Strategy     string     `json:"strategy"`
	Filename     string     `json:"filename"`
	Format       string     `json:"format"`
	TimeoutS     float64    `json:"timeout_s"`
	Workdir      string     `json:"workdir"`
	CodeHash     string     `json:"code_hash,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	ObjectURL    string     `json:"object_url,omitempty"`
	Error        string     `json:"error_message,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	Trace        string     `json:"trace,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	Signal       string     `json:"signal,omitempty"`
	DurationMS   *int       `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
