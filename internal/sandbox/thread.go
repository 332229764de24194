package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/render"
	"github.com/seantiz/drafter/internal/script"
)

// ThreadConfig configures a ThreadRunner.
type ThreadConfig struct {
	// TerminateGrace is how long Terminate waits per attempt for the
	// goroutine to unwind.
	TerminateGrace time.Duration
	// TerminateAttempts bounds the number of waits.
	TerminateAttempts int
}

// ThreadRunner evaluates js payloads in-process with a fresh goja VM per
// worker. Nothing can kill a goroutine, so a worker is only as stoppable as
// the script is interruptible; pair it with the interrupt strategy.
type ThreadRunner struct {
	cfg    ThreadConfig
	logger *slog.Logger
}

// Compile-time interface satisfaction check.
var _ Runner = (*ThreadRunner)(nil)

// NewThreadRunner creates a thread runner.
func NewThreadRunner(cfg ThreadConfig, logger *slog.Logger) *ThreadRunner {
	if cfg.TerminateGrace <= 0 {
		cfg.TerminateGrace = DefaultTerminateGrace
	}
	if cfg.TerminateAttempts <= 0 {
		cfg.TerminateAttempts = DefaultTerminateAttempts
	}
	return &ThreadRunner{cfg: cfg, logger: logger}
}

// Capabilities reports that thread workers run js and cannot be killed.
func (r *ThreadRunner) Capabilities() Capabilities {
	return Capabilities{
		Name:                 "goja",
		Isolation:            model.IsolationThread,
		Runtimes:             []string{model.RuntimeJS},
		ForcibleTermination:  false,
		CooperativeInterrupt: true,
	}
}

// Start launches the evaluation goroutine.
func (r *ThreadRunner) Start(p Payload, workdir string) (Worker, error) {
	if p.Runtime != model.RuntimeJS {
		return nil, fmt.Errorf("%w: thread runner does not support runtime %q", ErrIsolation, p.Runtime)
	}
	if len(p.CodeArchive) > 0 {
		return nil, fmt.Errorf("%w: thread runner does not accept code archives", ErrIsolation)
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workdir: %v", ErrIsolation, err)
	}

	w := &threadWorker{
		eval:     script.New(p.log),
		artifact: filepath.Join(workdir, p.ArtifactName()),
		cfg:      r.cfg,
		res:      newResult(),
	}
	workersStarted.WithLabelValues(model.IsolationThread).Inc()
	go w.run(p)
	return w, nil
}

type threadWorker struct {
	eval     *script.Evaluator
	artifact string
	cfg      ThreadConfig

	res         *result
	interrupted atomic.Bool

	termOnce sync.Once
	termErr  error
}

func (w *threadWorker) Done() <-chan struct{} {
	return w.res.Done()
}

func (w *threadWorker) Outcome() (WorkerOutcome, bool) {
	return w.res.Outcome()
}

// Interrupt stops the VM at its next instruction and wakes blocking bindings.
func (w *threadWorker) Interrupt() {
	w.interrupted.Store(true)
	w.eval.Interrupt("deadline exceeded")
}

// Terminate interrupts the VM and waits a bounded time for the goroutine to
// return. A goroutine stuck in native code is reported as ErrIsolation.
func (w *threadWorker) Terminate() error {
	w.termOnce.Do(func() {
		w.termErr = w.terminate()
	})
	return w.termErr
}

func (w *threadWorker) terminate() error {
	select {
	case <-w.res.done:
		return nil
	default:
	}
	w.Interrupt()
	for attempt := 0; attempt < w.cfg.TerminateAttempts; attempt++ {
		t := time.NewTimer(w.cfg.TerminateGrace)
		select {
		case <-w.res.done:
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	terminationFailures.Inc()
	return fmt.Errorf("%w: script goroutine did not unwind after %d waits", ErrIsolation, w.cfg.TerminateAttempts)
}

func (w *threadWorker) run(p Payload) {
	defer func() {
		if r := recover(); r != nil {
			w.res.set(WorkerOutcome{
				Kind:        Crashed,
				Signal:      "panic",
				Message:     fmt.Sprint(r),
				Trace:       string(debug.Stack()),
				Interrupted: w.interrupted.Load(),
			})
		}
	}()

	g, err := w.eval.Run(p.Code)
	if err != nil {
		o := WorkerOutcome{Kind: RuntimeError, Message: err.Error(), Interrupted: w.interrupted.Load()}
		var se *script.Error
		if errors.As(err, &se) {
			o.Message = se.Message
			o.Trace = se.Trace
			o.Interrupted = o.Interrupted || se.Interrupted
		}
		w.res.set(o)
		return
	}
	if w.interrupted.Load() {
		w.res.set(WorkerOutcome{Kind: RuntimeError, Message: "interrupted before rendering", Interrupted: true})
		return
	}

	if err := render.Render(g, p.Format, w.artifact); err != nil {
		w.res.set(WorkerOutcome{Kind: RuntimeError, Message: err.Error(), Interrupted: w.interrupted.Load()})
		return
	}
	w.res.set(WorkerOutcome{
		Kind:         Success,
		ArtifactPath: w.artifact,
		Interrupted:  w.interrupted.Load(),
		FinishedAt:   time.Now(),
	})
}
