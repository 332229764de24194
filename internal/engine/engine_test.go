package engine_test

import (
	"context"
	"errors"
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

// recordingSink remembers every published artifact.
type recordingSink struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, id, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.published = append(s.published, path)
	return "mem://" + id, nil
}

func newTestEngine(t *testing.T, rn sandbox.Runner, sink *recordingSink) (*engine.Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := sandbox.NewRegistry()
	reg.Register(rn.Capabilities().Isolation, rn)

	var eng *engine.Engine
	if sink != nil {
		eng = engine.NewEngine(s, reg, deadline.NewWatchdog(testLogger()), sink, testLogger())
	} else {
		eng = engine.NewEngine(s, reg, deadline.NewWatchdog(testLogger()), nil, testLogger())
	}
	t.Cleanup(eng.Wait)
	return eng, s
}

// waitForStatus polls the store until the execution reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.Execution {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		e, err := s.GetExecution(context.Background(), id)
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		if e.Status == expected {
			return e
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestExecuteSuccess(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), delay: 10 * time.Millisecond, outcome: sandbox.WorkerOutcome{Kind: sandbox.Success}}
	eng, _ := newTestEngine(t, rn, nil)

	req := testRequest(t, 1)
	res := eng.Execute(context.Background(), req)
	if res.Status != model.StatusOK {
		t.Fatalf("result = %+v, want ok", res)
	}
	if res.ArtifactPath != filepath.Join(req.Workdir, "diagram.dot") {
		t.Errorf("ArtifactPath = %q", res.ArtifactPath)
	}
}

func TestExecuteRemovesPartialArtifactOnTimeout(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), writeArtifact: true}
	eng, _ := newTestEngine(t, rn, nil)

	req := testRequest(t, 0.05)
	res := eng.Execute(context.Background(), req)
	if res.Status != model.StatusTimedOut {
		t.Fatalf("result = %+v, want timed_out", res)
	}
	if res.ArtifactPath != "" {
		t.Errorf("ArtifactPath = %q, want empty for a non-ok result", res.ArtifactPath)
	}
	if _, err := os.Stat(filepath.Join(req.Workdir, "diagram.dot")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partial artifact left behind: %v", err)
	}
}

func TestExecuteRejectsBusyWorkdir(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), delay: 200 * time.Millisecond, outcome: sandbox.WorkerOutcome{Kind: sandbox.Success}}
	eng, _ := newTestEngine(t, rn, nil)
	req := testRequest(t, 2)

	results := make(chan engine.ExecutionResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Go(func() {
			results <- eng.Execute(context.Background(), req)
		})
	}
	wg.Wait()
	close(results)

	var ok, busy int
	for res := range results {
		switch {
		case res.Status == model.StatusOK:
			ok++
		case res.ErrorKind == model.ErrorKindIsolation && strings.Contains(res.Error, "in use"):
			busy++
		default:
			t.Errorf("unexpected result %+v", res)
		}
	}
	if ok != 1 || busy != 1 {
		t.Errorf("ok = %d, busy = %d; want one of each", ok, busy)
	}
}

func TestExecuteUnresolvableRunner(t *testing.T) {
	rn := &stubRunner{caps: threadCaps(), delay: time.Millisecond}
	eng, _ := newTestEngine(t, rn, nil)

	req := testRequest(t, 1)
	req.Isolation = model.IsolationProcess
	res := eng.Execute(context.Background(), req)
	if res.Status != model.StatusFailed || res.ErrorKind != model.ErrorKindIsolation {
		t.Errorf("result = %+v, want failed/isolation_failure", res)
	}
}

func TestExecuteIdempotent(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), delay: 5 * time.Millisecond, outcome: sandbox.WorkerOutcome{Kind: sandbox.Success}}
	eng, _ := newTestEngine(t, rn, nil)

	req := testRequest(t, 1)
	first := eng.Execute(context.Background(), req)
	second := eng.Execute(context.Background(), req)
	if first.Status != second.Status || first.ArtifactPath != second.ArtifactPath {
		t.Errorf("runs differ: %+v vs %+v", first, second)
	}
}

func TestRunPersistsResult(t *testing.T) {
	sink := &recordingSink{}
	rn := &stubRunner{
		caps: processCaps(), delay: 10 * time.Millisecond,
		outcome:  sandbox.WorkerOutcome{Kind: sandbox.Success},
		logLines: []string{"rendering", "done"},
	}
	eng, s := newTestEngine(t, rn, sink)

	id := model.NewID()
	rec, err := eng.Run(context.Background(), id, testRequest(t, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != model.StatusOK {
		t.Fatalf("status = %q, want ok", rec.Status)
	}
	if rec.ObjectURL != "mem://"+id {
		t.Errorf("ObjectURL = %q", rec.ObjectURL)
	}
	if rec.Strategy != string(deadline.StrategyWatchdog) {
		t.Errorf("Strategy = %q, want watchdog", rec.Strategy)
	}
	if rec.Isolation != model.IsolationProcess {
		t.Errorf("Isolation = %q, want resolved process", rec.Isolation)
	}
	if rec.CodeHash == "" {
		t.Error("CodeHash is empty")
	}
	if rec.DurationMS == nil || rec.StartedAt == nil || rec.FinishedAt == nil {
		t.Errorf("timing fields missing: %+v", rec)
	}

	lines, err := s.GetLogLines(context.Background(), id)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(lines) != 2 || lines[0].Line != "rendering" || lines[1].Seq != 1 {
		t.Errorf("log lines = %+v", lines)
	}
	if len(sink.published) != 1 {
		t.Errorf("published %d artifacts, want 1", len(sink.published))
	}
}

func TestRunSinkFailureKeepsOK(t *testing.T) {
	sink := &recordingSink{err: errors.New("bucket gone")}
	rn := &stubRunner{caps: processCaps(), delay: time.Millisecond, outcome: sandbox.WorkerOutcome{Kind: sandbox.Success}}
	eng, _ := newTestEngine(t, rn, sink)

	rec, err := eng.Run(context.Background(), model.NewID(), testRequest(t, 1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Status != model.StatusOK || rec.ObjectURL != "" {
		t.Errorf("record = %+v, want ok without object url", rec)
	}
}

func TestSubmitHappyPath(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), delay: 50 * time.Millisecond, outcome: sandbox.WorkerOutcome{Kind: sandbox.Success}}
	eng, s := newTestEngine(t, rn, nil)

	id := model.NewID()
	rec, err := eng.Submit(context.Background(), id, testRequest(t, 5))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Status != model.StatusPending {
		t.Errorf("returned status = %q, want pending", rec.Status)
	}

	done := waitForStatus(t, s, id, model.StatusOK, 5*time.Second)
	if done.ArtifactPath == "" {
		t.Error("artifact_path is empty")
	}
}

func TestSubmitTimeout(t *testing.T) {
	rn := &stubRunner{caps: processCaps()}
	eng, s := newTestEngine(t, rn, nil)

	id := model.NewID()
	if _, err := eng.Submit(context.Background(), id, testRequest(t, 0.1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := waitForStatus(t, s, id, model.StatusTimedOut, 5*time.Second)
	if rec.ErrorKind != model.ErrorKindTimeout {
		t.Errorf("ErrorKind = %q, want %q", rec.ErrorKind, model.ErrorKindTimeout)
	}
	if !strings.Contains(rec.Error, "timed out after 100ms") {
		t.Errorf("Error = %q", rec.Error)
	}
}

func TestSubmitRuntimeError(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), delay: time.Millisecond, outcome: sandbox.WorkerOutcome{
		Kind: sandbox.RuntimeError, Message: "SyntaxError", Trace: "at line 1",
	}}
	eng, s := newTestEngine(t, rn, nil)

	id := model.NewID()
	if _, err := eng.Submit(context.Background(), id, testRequest(t, 1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := waitForStatus(t, s, id, model.StatusFailed, 5*time.Second)
	if rec.ErrorKind != model.ErrorKindRuntime || rec.Trace != "at line 1" {
		t.Errorf("record = %+v", rec)
	}
}

func TestSubmitOutlivesCallerContext(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), delay: 50 * time.Millisecond, outcome: sandbox.WorkerOutcome{Kind: sandbox.Success}}
	eng, s := newTestEngine(t, rn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	id := model.NewID()
	if _, err := eng.Submit(ctx, id, testRequest(t, 5)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()

	waitForStatus(t, s, id, model.StatusOK, 5*time.Second)
}

func TestCancel(t *testing.T) {
	rn := &stubRunner{caps: processCaps()}
	eng, s := newTestEngine(t, rn, nil)

	id := model.NewID()
	if _, err := eng.Submit(context.Background(), id, testRequest(t, 30)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, s, id, model.StatusRunning, 5*time.Second)

	if err := eng.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec := waitForStatus(t, s, id, model.StatusFailed, 5*time.Second)
	if rec.ErrorKind != model.ErrorKindCanceled {
		t.Errorf("ErrorKind = %q, want canceled", rec.ErrorKind)
	}

	eng.Wait()
	if err := eng.Cancel(context.Background(), id); !errors.Is(err, engine.ErrFinished) {
		t.Errorf("second Cancel = %v, want ErrFinished", err)
	}
	if err := eng.Cancel(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Cancel unknown = %v, want ErrNotFound", err)
	}
}

func TestSubmitConcurrent(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), delay: 50 * time.Millisecond, outcome: sandbox.WorkerOutcome{Kind: sandbox.Success}}
	eng, s := newTestEngine(t, rn, nil)

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = model.NewID()
		req := testRequest(t, 5)
		if _, err := eng.Submit(context.Background(), ids[i], req); err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
	}

	for _, id := range ids {
		waitForStatus(t, s, id, model.StatusOK, 5*time.Second)
	}
}
