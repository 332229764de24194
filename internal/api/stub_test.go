package api

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/engine"
	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
	"github.com/seantiz/drafter/internal/store"
)

// scriptedRunner runs no code. The payload's Code picks the behavior:
// "ok" writes the artifact, "fail" raises a runtime error and "hang" never
// finishes until terminated. Lines prefixed "log:" are emitted first.
type scriptedRunner struct{}

func (scriptedRunner) Capabilities() sandbox.Capabilities {
	return sandbox.Capabilities{
		Name:                "scripted",
		Isolation:           model.IsolationProcess,
		Runtimes:            []string{model.RuntimeJS, model.RuntimeShell},
		ForcibleTermination: true,
	}
}

func (scriptedRunner) Start(p sandbox.Payload, workdir string) (sandbox.Worker, error) {
	w := &scriptedWorker{done: make(chan struct{})}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, err
	}

	var mode string
	for _, line := range strings.Split(p.Code, "\n") {
		if msg, ok := strings.CutPrefix(line, "log:"); ok {
			if p.LogWriter != nil {
				p.LogWriter(msg)
			}
			continue
		}
		mode = strings.TrimSpace(line)
	}

	switch mode {
	case "ok":
		path := filepath.Join(workdir, p.ArtifactName())
		if err := os.WriteFile(path, []byte("digraph {}\n"), 0o644); err != nil {
			return nil, err
		}
		time.AfterFunc(10*time.Millisecond, func() {
			w.finish(sandbox.WorkerOutcome{Kind: sandbox.Success, ArtifactPath: path})
		})
	case "fail":
		w.finish(sandbox.WorkerOutcome{Kind: sandbox.RuntimeError, Message: "ReferenceError: nodes is not defined", Trace: "at diagram.js:1"})
	}
	return w, nil
}

type scriptedWorker struct {
	once    sync.Once
	done    chan struct{}
	outcome sandbox.WorkerOutcome
}

func (w *scriptedWorker) finish(o sandbox.WorkerOutcome) {
	w.once.Do(func() {
		o.FinishedAt = time.Now()
		w.outcome = o
		close(w.done)
	})
}

func (w *scriptedWorker) Done() <-chan struct{} { return w.done }

func (w *scriptedWorker) Outcome() (sandbox.WorkerOutcome, bool) {
	select {
	case <-w.done:
		return w.outcome, true
	default:
		return sandbox.WorkerOutcome{}, false
	}
}

func (w *scriptedWorker) Interrupt() {}

func (w *scriptedWorker) Terminate() error {
	w.finish(sandbox.WorkerOutcome{Kind: sandbox.Crashed, Signal: "SIGKILL"})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := sandbox.NewRegistry()
	reg.Register(model.IsolationProcess, scriptedRunner{})

	eng := engine.NewEngine(s, reg, deadline.NewWatchdog(testLogger()), nil, testLogger())
	t.Cleanup(eng.Wait)

	return NewServer(Options{
		Addr:            ":0",
		WorkspaceDir:    t.TempDir(),
		DefaultTimeoutS: 5,
		MaxTimeoutS:     10,
	}, s, eng, testLogger())
}
