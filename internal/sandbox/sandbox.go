package sandbox

import (
	"errors"
	"sync"
	"time"
)

// ErrIsolation is returned when an isolation unit cannot be started or cannot
// be stopped.
var ErrIsolation = errors.New("isolation failure")

// Payload is one unit of diagram-generation work.
type Payload struct {
	Runtime  string            `json:"runtime"`
	Code     string            `json:"code"`
	Filename string            `json:"filename"`
	Format   string            `json:"format"`
	Env      map[string]string `json:"env,omitempty"`

	// CodeArchive is a tar.gz archive extracted into the workdir before the
	// entrypoint is written. Process runners only.
	CodeArchive []byte `json:"code_archive,omitempty"`

	// LogWriter receives each line the payload prints. Optional.
	LogWriter func(line string) `json:"-"`
}

// ArtifactName is the file name the payload is expected to produce.
func (p Payload) ArtifactName() string {
	return p.Filename + "." + p.Format
}

func (p Payload) log(line string) {
	if p.LogWriter != nil {
		p.LogWriter(line)
	}
}

// OutcomeKind tags a WorkerOutcome.
type OutcomeKind int

// Outcome kinds.
const (
	Success OutcomeKind = iota
	RuntimeError
	Crashed
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case RuntimeError:
		return "runtime_error"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// WorkerOutcome is what a worker reports when it finishes on its own.
type WorkerOutcome struct {
	Kind         OutcomeKind
	ArtifactPath string
	Message      string
	Trace        string
	ExitCode     *int
	Signal       string

	// Interrupted is set when the worker unwound because of an in-band
	// interrupt rather than finishing its payload.
	Interrupted bool
	FinishedAt  time.Time
}

// Capabilities describes a runner.
type Capabilities struct {
	Name                 string   `json:"name"`
	Isolation            string   `json:"isolation"`
	Runtimes             []string `json:"runtimes"`
	ForcibleTermination  bool     `json:"forcible_termination"`
	CooperativeInterrupt bool     `json:"cooperative_interrupt"`
}

// Supports reports whether the runner accepts runtime.
func (c Capabilities) Supports(runtime string) bool {
	for _, rt := range c.Runtimes {
		if rt == runtime {
			return true
		}
	}
	return false
}

// Runner starts workers for payloads.
type Runner interface {
	Capabilities() Capabilities
	Start(p Payload, workdir string) (Worker, error)
}

// Worker is one running payload. It satisfies deadline.Target.
type Worker interface {
	// Done is closed once the outcome is available.
	Done() <-chan struct{}
	// Outcome returns the outcome and true once Done is closed.
	Outcome() (WorkerOutcome, bool)
	// Interrupt asks the payload to unwind cooperatively.
	Interrupt()
	// Terminate stops the worker. Repeated calls return the first result.
	Terminate() error
}

// Join waits for w to finish until the given instant. It returns false if the
// worker is still pending at that point.
func Join(w Worker, until time.Time) (WorkerOutcome, bool) {
	d := time.Until(until)
	if d <= 0 {
		return w.Outcome()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.Done():
	case <-t.C:
	}
	return w.Outcome()
}

// result is the single-assignment outcome slot shared by both worker kinds.
type result struct {
	once    sync.Once
	done    chan struct{}
	outcome WorkerOutcome
}

func newResult() *result {
	return &result{done: make(chan struct{})}
}

// set records o if no outcome was recorded yet.
func (r *result) set(o WorkerOutcome) {
	r.once.Do(func() {
		if o.FinishedAt.IsZero() {
			o.FinishedAt = time.Now()
		}
		r.outcome = o
		close(r.done)
	})
}

func (r *result) Done() <-chan struct{} {
	return r.done
}

func (r *result) Outcome() (WorkerOutcome, bool) {
	select {
	case <-r.done:
		return r.outcome, true
	default:
		return WorkerOutcome{}, false
	}
}

func intPtr(v int) *int {
	return &v
}
