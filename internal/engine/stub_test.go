package engine_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// interruptPrimitive reports the interrupt strategy and delivers Interrupt on
// expiry, using a watchdog timer so tests run on every platform.
type interruptPrimitive struct {
	w *deadline.Watchdog
}

func newInterruptPrimitive() interruptPrimitive {
	return interruptPrimitive{w: deadline.NewWatchdog(testLogger())}
}

func (p interruptPrimitive) Strategy() deadline.Strategy {
	return deadline.StrategyInterrupt
}

func (p interruptPrimitive) Arm(timeout time.Duration, t deadline.Target) (*deadline.Handle, error) {
	return p.w.Arm(timeout, interruptOnly{t})
}

type interruptOnly struct {
	deadline.Target
}

func (t interruptOnly) Terminate() error {
	t.Target.Interrupt()
	return nil
}

// stubWorker finishes after a delay with a fixed outcome. Interrupt and
// Terminate end it early when the corresponding flag allows.
type stubWorker struct {
	cooperative bool
	killable    bool
	termErr     error

	once    sync.Once
	done    chan struct{}
	outcome sandbox.WorkerOutcome

	interrupts atomic.Int32
	terminates atomic.Int32
}

func (w *stubWorker) finish(o sandbox.WorkerOutcome) {
	w.once.Do(func() {
		o.FinishedAt = time.Now()
		w.outcome = o
		close(w.done)
	})
}

func (w *stubWorker) Done() <-chan struct{} { return w.done }

func (w *stubWorker) Outcome() (sandbox.WorkerOutcome, bool) {
	select {
	case <-w.done:
		return w.outcome, true
	default:
		return sandbox.WorkerOutcome{}, false
	}
}

func (w *stubWorker) Interrupt() {
	w.interrupts.Add(1)
	if w.cooperative {
		w.finish(sandbox.WorkerOutcome{Kind: sandbox.RuntimeError, Message: "interrupted", Interrupted: true})
	}
}

func (w *stubWorker) Terminate() error {
	w.terminates.Add(1)
	if w.termErr != nil {
		return w.termErr
	}
	if w.killable {
		w.finish(sandbox.WorkerOutcome{Kind: sandbox.Crashed, Signal: "SIGKILL"})
		return nil
	}
	w.Interrupt()
	select {
	case <-w.done:
		return nil
	case <-time.After(100 * time.Millisecond):
		return sandbox.ErrIsolation
	}
}

// stubRunner starts stubWorkers. A zero delay means the worker never
// finishes on its own.
type stubRunner struct {
	caps     sandbox.Capabilities
	delay    time.Duration
	outcome  sandbox.WorkerOutcome
	startErr error
	termErr  error

	// writeArtifact makes a successful worker create its artifact, and a
	// partial file otherwise.
	writeArtifact bool
	logLines      []string

	mu      sync.Mutex
	started []*stubWorker
}

func processCaps() sandbox.Capabilities {
	return sandbox.Capabilities{
		Name:                "stub-process",
		Isolation:           model.IsolationProcess,
		Runtimes:            []string{model.RuntimeJS, model.RuntimePython, model.RuntimeShell},
		ForcibleTermination: true,
	}
}

func threadCaps() sandbox.Capabilities {
	return sandbox.Capabilities{
		Name:                 "stub-thread",
		Isolation:            model.IsolationThread,
		Runtimes:             []string{model.RuntimeJS},
		CooperativeInterrupt: true,
	}
}

func (r *stubRunner) Capabilities() sandbox.Capabilities { return r.caps }

func (r *stubRunner) Start(p sandbox.Payload, workdir string) (sandbox.Worker, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	w := &stubWorker{
		cooperative: r.caps.CooperativeInterrupt,
		killable:    r.caps.ForcibleTermination,
		termErr:     r.termErr,
		done:        make(chan struct{}),
	}
	r.mu.Lock()
	r.started = append(r.started, w)
	r.mu.Unlock()

	artifactPath := filepath.Join(workdir, p.ArtifactName())
	if r.writeArtifact {
		os.MkdirAll(workdir, 0o755)
		os.WriteFile(artifactPath, []byte("partial"), 0o644)
	}
	for _, l := range r.logLines {
		if p.LogWriter != nil {
			p.LogWriter(l)
		}
	}

	if r.delay > 0 {
		o := r.outcome
		if o.Kind == sandbox.Success {
			o.ArtifactPath = artifactPath
		}
		time.AfterFunc(r.delay, func() { w.finish(o) })
	}
	return w, nil
}

func (r *stubRunner) workers() []*stubWorker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*stubWorker(nil), r.started...)
}
