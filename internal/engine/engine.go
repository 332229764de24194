package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/drafter/internal/artifact"
	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
	"github.com/seantiz/drafter/internal/store"
)

var (
	// ErrFinished is returned by Cancel for an execution that already has a result.
	ErrFinished = errors.New("execution already finished")

	// ErrNotCancelable is returned by Cancel for an execution this process is
	// not running.
	ErrNotCancelable = errors.New("execution is not running in this process")
)

// Engine runs execution requests through the Coordinator and records their
// lifecycle.
type Engine struct {
	store    store.Store
	registry *sandbox.Registry
	coord    *Coordinator
	sink     artifact.Sink
	logger   *slog.Logger
	broker   *LogBroker
	wg       sync.WaitGroup

	mu       sync.Mutex
	workdirs map[string]struct{}
	cancels  map[string]context.CancelFunc
}

// NewEngine creates an execution engine. A nil sink keeps artifacts local.
func NewEngine(s store.Store, reg *sandbox.Registry, p deadline.Primitive, sink artifact.Sink, logger *slog.Logger) *Engine {
	if sink == nil {
		sink = artifact.LocalSink{}
	}
	return &Engine{
		store:    s,
		registry: reg,
		coord:    NewCoordinator(p, logger.With("component", "coordinator")),
		sink:     sink,
		logger:   logger,
		broker:   NewLogBroker(),
		workdirs: make(map[string]struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Strategy returns the active deadline strategy.
func (e *Engine) Strategy() deadline.Strategy {
	return e.coord.Strategy()
}

// Registry returns the runner registry.
func (e *Engine) Registry() *sandbox.Registry {
	return e.registry
}

// Sink returns the artifact sink.
func (e *Engine) Sink() artifact.Sink {
	return e.sink
}

// Execute runs req to completion and returns its normalized result. Nothing
// is persisted. Partial artifacts are removed for every non-ok result.
func (e *Engine) Execute(ctx context.Context, req ExecutionRequest) ExecutionResult {
	release, err := e.claim(req.Workdir)
	if err != nil {
		return Normalize(Resolution{Err: err})
	}
	defer release()

	rn, err := e.registry.Resolve(req.Isolation, req.Payload.Runtime)
	if err != nil {
		return Normalize(Resolution{Err: fmt.Errorf("%w: %v", sandbox.ErrIsolation, err)})
	}

	activeWorkers.Inc()
	start := time.Now()
	res := Normalize(e.coord.Run(ctx, rn, req))
	activeWorkers.Dec()

	if res.Status != model.StatusOK {
		removePartial(req)
	}
	executionsTotal.WithLabelValues(req.Payload.Runtime, res.Status).Inc()
	executionDuration.WithLabelValues(string(e.coord.Strategy())).Observe(time.Since(start).Seconds())
	return res
}

// claim gives the caller exclusive use of dir until release is called.
func (e *Engine) claim(dir string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.workdirs[dir]; busy {
		return nil, fmt.Errorf("%w: workdir %s is in use by another execution", sandbox.ErrIsolation, dir)
	}
	e.workdirs[dir] = struct{}{}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.workdirs, dir)
	}, nil
}

// removePartial deletes the artifact and any render temp file left behind.
func removePartial(req ExecutionRequest) {
	name := req.Payload.ArtifactName()
	for _, p := range []string{
		filepath.Join(req.Workdir, name),
		filepath.Join(req.Workdir, "."+name+".tmp"),
	} {
		os.Remove(p)
	}
}

// Run persists a record for req under id, executes it synchronously and
// returns the finished record. Canceling ctx cancels the execution.
func (e *Engine) Run(ctx context.Context, id string, req ExecutionRequest) (*model.Execution, error) {
	rec := e.newRecord(id, req)
	if err := e.store.CreateExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	runCtx, cancel := e.track(ctx, id)
	defer cancel()
	e.run(runCtx, id, req)

	return e.store.GetExecution(context.WithoutCancel(ctx), id)
}

// Submit creates a pending record and launches execution in a goroutine. The
// execution outlives ctx; use Cancel to stop it.
func (e *Engine) Submit(ctx context.Context, id string, req ExecutionRequest) (*model.Execution, error) {
	rec := e.newRecord(id, req)
	if err := e.store.CreateExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	runCtx, cancel := e.track(context.WithoutCancel(ctx), id)
	e.wg.Go(func() {
		defer cancel()
		e.run(runCtx, id, req)
	})

	recCopy := *rec
	return &recCopy, nil
}

// Cancel stops an in-flight execution.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	rec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if model.IsTerminal(rec.Status) {
		return ErrFinished
	}
	return ErrNotCancelable
}

// Wait blocks until all submitted executions complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// track registers a cancel function for id. The returned cancel also
// unregisters it.
func (e *Engine) track(parent context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()
	return ctx, func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
		cancel()
	}
}

func (e *Engine) newRecord(id string, req ExecutionRequest) *model.Execution {
	isolation := req.Isolation
	if rn, err := e.registry.Resolve(req.Isolation, req.Payload.Runtime); err == nil {
		isolation = rn.Capabilities().Isolation
	}
	sum := sha256.Sum256([]byte(req.Payload.Code))
	return &model.Execution{
		ID:        id,
		Status:    model.StatusPending,
		Runtime:   req.Payload.Runtime,
		Isolation: isolation,
		Strategy:  string(e.coord.Strategy()),
		Filename:  req.Payload.Filename,
		Format:    req.Payload.Format,
		TimeoutS:  req.Timeout.Seconds(),
		Workdir:   req.Workdir,
		CodeHash:  hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}
}

// run drives a persisted execution: pending→running→ok|timed_out|failed.
func (e *Engine) run(ctx context.Context, id string, req ExecutionRequest) {
	defer e.broker.Close(id)
	bg := context.WithoutCancel(ctx)
	logger := e.logger.With("execution_id", id, "runtime", req.Payload.Runtime)

	if err := e.store.UpdateExecutionStatus(bg, id, model.StatusRunning); err != nil {
		logger.Error("failed to transition to running", "error", err)
		e.finish(bg, id, nil, ExecutionResult{
			Status:    model.StatusFailed,
			ErrorKind: model.ErrorKindIsolation,
			Error:     fmt.Sprintf("failed to start: %v", err),
		})
		return
	}
	start := time.Now().UTC()

	// The LogWriter dual-writes: persist for history, then publish for SSE.
	var seq atomic.Int32
	forward := req.Payload.LogWriter
	req.Payload.LogWriter = func(line string) {
		n := int(seq.Add(1) - 1)
		if err := e.store.InsertLogLine(bg, id, n, line); err != nil {
			logger.Error("failed to persist log line", "seq", n, "error", err)
		}
		e.broker.Publish(id, line)
		if forward != nil {
			forward(line)
		}
	}

	res := e.Execute(ctx, req)
	logger.Info("execution finished", "status", res.Status, "error_kind", res.ErrorKind,
		"duration", time.Since(start))
	e.finish(bg, id, &start, res)
}

// finish records res. startedAt may be nil if execution never started.
func (e *Engine) finish(ctx context.Context, id string, startedAt *time.Time, res ExecutionResult) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(now.Sub(*startedAt).Milliseconds())
	}

	rec := &model.Execution{
		ID:           id,
		Status:       res.Status,
		ArtifactPath: res.ArtifactPath,
		Error:        res.Error,
		ErrorKind:    res.ErrorKind,
		Trace:        res.Trace,
		ExitCode:     res.ExitCode,
		Signal:       res.Signal,
		DurationMS:   &durationMS,
		StartedAt:    startedAt,
		FinishedAt:   &now,
	}

	if res.Status == model.StatusOK {
		url, err := e.sink.Publish(ctx, id, res.ArtifactPath)
		if err != nil {
			e.logger.Warn("failed to publish artifact", "execution_id", id, "sink", e.sink.Name(), "error", err)
		}
		rec.ObjectURL = url
	}

	if err := e.store.UpdateExecution(ctx, rec); err != nil {
		e.logger.Error("failed to record execution result", "execution_id", id, "error", err)
	}
}
