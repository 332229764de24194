package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/drafter/internal/model"
)

// entrypointPlaceholder is replaced in RuntimeCommand.Args with the absolute
// entrypoint path.
const entrypointPlaceholder = "{entrypoint}"

// Environment variables passed to every process payload.
const (
	EnvOutput     = "DRAFTER_OUTPUT"
	EnvOutputBase = "DRAFTER_OUTPUT_BASE"
	EnvFormat     = "DRAFTER_FORMAT"
	EnvWorkdir    = "DRAFTER_WORKDIR"
)

// ReservedEnvPrefix marks variables set by the runner. Payload Env keys with
// this prefix are dropped.
const ReservedEnvPrefix = "DRAFTER_"

// inheritedEnv lists the only server variables a payload sees.
var inheritedEnv = []string{"PATH", "LANG", "LC_ALL", "TZ"}

// Defaults for ProcessConfig fields left zero.
const (
	DefaultTerminateGrace    = 500 * time.Millisecond
	DefaultTerminateAttempts = 3
	DefaultTraceLimit        = 8 * 1024
)

const groupPollInterval = 10 * time.Millisecond

// RuntimeCommand describes how a runtime's entrypoint is executed.
type RuntimeCommand struct {
	Bin        string   `yaml:"bin" json:"bin"`
	Args       []string `yaml:"args" json:"args"`
	Entrypoint string   `yaml:"entrypoint" json:"entrypoint"`
}

// DefaultRuntimes returns the built-in runtime table. js payloads run through
// workerBin, the drafter-worker binary.
func DefaultRuntimes(workerBin string) map[string]RuntimeCommand {
	return map[string]RuntimeCommand{
		model.RuntimeShell: {
			Bin:        "/bin/sh",
			Args:       []string{entrypointPlaceholder},
			Entrypoint: "diagram.sh",
		},
		model.RuntimePython: {
			Bin:        "python3",
			Args:       []string{entrypointPlaceholder},
			Entrypoint: "diagram.py",
		},
		model.RuntimeJS: {
			Bin:        workerBin,
			Args:       []string{entrypointPlaceholder},
			Entrypoint: "diagram.js",
		},
	}
}

// ProcessConfig configures a ProcessRunner.
type ProcessConfig struct {
	Runtimes map[string]RuntimeCommand

	// TerminateGrace is how long Terminate waits after each signal.
	TerminateGrace time.Duration
	// TerminateAttempts bounds the number of signals Terminate sends.
	TerminateAttempts int
	// TraceLimit bounds the stderr bytes kept as the error trace.
	TraceLimit int
}

func (c *ProcessConfig) applyDefaults() {
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = DefaultTerminateGrace
	}
	if c.TerminateAttempts <= 0 {
		c.TerminateAttempts = DefaultTerminateAttempts
	}
	if c.TraceLimit <= 0 {
		c.TraceLimit = DefaultTraceLimit
	}
}

// ProcessRunner runs payloads as OS subprocesses, each in its own process
// group where the platform has them.
type ProcessRunner struct {
	cfg    ProcessConfig
	logger *slog.Logger
}

// Compile-time interface satisfaction check.
var _ Runner = (*ProcessRunner)(nil)

// NewProcessRunner creates a process runner.
func NewProcessRunner(cfg ProcessConfig, logger *slog.Logger) *ProcessRunner {
	cfg.applyDefaults()
	return &ProcessRunner{cfg: cfg, logger: logger}
}

// Capabilities reports the configured runtimes.
func (r *ProcessRunner) Capabilities() Capabilities {
	runtimes := make([]string, 0, len(r.cfg.Runtimes))
	for rt := range r.cfg.Runtimes {
		runtimes = append(runtimes, rt)
	}
	sort.Strings(runtimes)
	return Capabilities{
		Name:                 "subprocess",
		Isolation:            model.IsolationProcess,
		Runtimes:             runtimes,
		ForcibleTermination:  true,
		CooperativeInterrupt: interruptSignalSupported,
	}
}

// Start prepares the workdir and launches the runtime command.
func (r *ProcessRunner) Start(p Payload, workdir string) (Worker, error) {
	rc, ok := r.cfg.Runtimes[p.Runtime]
	if !ok {
		return nil, fmt.Errorf("%w: runtime %q is not configured", ErrIsolation, p.Runtime)
	}
	if err := validatePath(workdir, rc.Entrypoint); err != nil {
		return nil, fmt.Errorf("%w: invalid entrypoint: %v", ErrIsolation, err)
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workdir: %v", ErrIsolation, err)
	}
	if len(p.CodeArchive) > 0 {
		if err := extractArchive(workdir, p.CodeArchive); err != nil {
			return nil, fmt.Errorf("%w: extract archive: %v", ErrIsolation, err)
		}
	}

	entrypoint := filepath.Join(workdir, rc.Entrypoint)
	if p.Code != "" || len(p.CodeArchive) == 0 {
		if err := os.WriteFile(entrypoint, []byte(p.Code), 0o644); err != nil {
			return nil, fmt.Errorf("%w: write entrypoint: %v", ErrIsolation, err)
		}
	}

	artifact := filepath.Join(workdir, p.ArtifactName())
	args := make([]string, len(rc.Args))
	for i, a := range rc.Args {
		args[i] = strings.ReplaceAll(a, entrypointPlaceholder, entrypoint)
	}

	cmd := exec.Command(rc.Bin, args...)
	cmd.Dir = workdir
	cmd.Env = payloadEnv(p, workdir, artifact)
	configureCommand(cmd)
	cmd.WaitDelay = r.cfg.TerminateGrace

	stdout := newLineWriter(p.log, 0)
	stderr := newLineWriter(p.log, r.cfg.TraceLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrIsolation, rc.Bin, err)
	}
	workersStarted.WithLabelValues(model.IsolationProcess).Inc()

	w := &processWorker{
		cmd:      cmd,
		artifact: artifact,
		stdout:   stdout,
		stderr:   stderr,
		cfg:      r.cfg,
		logger:   r.logger.With("pid", cmd.Process.Pid, "runtime", p.Runtime),
		res:      newResult(),
	}
	go w.wait()
	return w, nil
}

// payloadEnv builds the child environment from inheritedEnv, the payload's
// own variables and the runner's DRAFTER_ variables, in that order.
func payloadEnv(p Payload, workdir, artifact string) []string {
	env := make([]string, 0, len(inheritedEnv)+len(p.Env)+5)
	for _, k := range inheritedEnv {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	env = append(env, "HOME="+workdir)

	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		if k == "" || k == "HOME" || strings.HasPrefix(k, ReservedEnvPrefix) || strings.ContainsAny(k, "=\x00") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+p.Env[k])
	}

	return append(env,
		EnvOutput+"="+artifact,
		EnvOutputBase+"="+filepath.Join(workdir, p.Filename),
		EnvFormat+"="+p.Format,
		EnvWorkdir+"="+workdir,
	)
}

type processWorker struct {
	cmd      *exec.Cmd
	artifact string
	stdout   *lineWriter
	stderr   *lineWriter
	cfg      ProcessConfig
	logger   *slog.Logger

	res         *result
	interrupted atomic.Bool

	termOnce sync.Once
	termErr  error
}

func (w *processWorker) Done() <-chan struct{} {
	return w.res.Done()
}

func (w *processWorker) Outcome() (WorkerOutcome, bool) {
	return w.res.Outcome()
}

// Interrupt sends the in-band interrupt signal to the process group.
func (w *processWorker) Interrupt() {
	select {
	case <-w.res.done:
		return
	default:
	}
	w.interrupted.Store(true)
	if err := interruptProcess(w.cmd.Process); err != nil {
		w.logger.Debug("interrupt process", "error", err)
	}
}

// Terminate escalates through the termination signals until the leader is
// reaped and no member of its process group is left, or the attempts run out.
func (w *processWorker) Terminate() error {
	w.termOnce.Do(func() {
		w.termErr = w.terminate()
	})
	return w.termErr
}

func (w *processWorker) terminate() error {
	for attempt := 0; attempt < w.cfg.TerminateAttempts; attempt++ {
		if w.stopped() {
			return nil
		}
		sig, err := stopProcess(w.cmd.Process, attempt)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			w.logger.Warn("signal process group", "signal", sig, "error", err)
		}
		terminationSignals.WithLabelValues(sig).Inc()

		if w.awaitStopped(w.cfg.TerminateGrace) {
			return nil
		}
	}
	terminationFailures.Inc()
	return fmt.Errorf("%w: process group %d still running after %d termination attempts",
		ErrIsolation, w.cmd.Process.Pid, w.cfg.TerminateAttempts)
}

// stopped is true once the leader is reaped and its group is empty.
func (w *processWorker) stopped() bool {
	select {
	case <-w.res.done:
		return !groupAlive(w.cmd.Process)
	default:
		return false
	}
}

// awaitStopped waits up to grace for stopped to hold. Group members that
// outlive the leader are polled for.
func (w *processWorker) awaitStopped(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	done := w.res.done
	for {
		if w.stopped() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		t := time.NewTimer(min(remaining, groupPollInterval))
		select {
		case <-done:
			// Leader reaped; from here on only the poll timer matters.
			done = nil
		case <-t.C:
		}
		t.Stop()
	}
}

func (w *processWorker) wait() {
	err := w.cmd.Wait()
	finishedAt := time.Now()
	w.killRemaining()
	w.stdout.Flush()
	w.stderr.Flush()
	o := w.classify(err)
	o.FinishedAt = finishedAt
	w.res.set(o)
}

// killRemaining kills group members the leader left behind and waits up to
// one grace period for them to go.
func (w *processWorker) killRemaining() {
	p := w.cmd.Process
	if err := killGroup(p); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			w.logger.Warn("kill remaining process group", "error", err)
		}
		return
	}
	deadline := time.Now().Add(w.cfg.TerminateGrace)
	for groupAlive(p) && time.Now().Before(deadline) {
		time.Sleep(groupPollInterval)
	}
}

func (w *processWorker) classify(waitErr error) WorkerOutcome {
	o := WorkerOutcome{
		Interrupted: w.interrupted.Load(),
		Trace:       w.stderr.Trace(),
	}

	state := w.cmd.ProcessState
	if state == nil {
		o.Kind = Crashed
		o.Message = fmt.Sprintf("wait for process: %v", waitErr)
		return o
	}
	if sig, ok := exitSignal(state); ok {
		o.Kind = Crashed
		o.Signal = sig
		o.Message = "worker killed by " + sig
		return o
	}

	code := state.ExitCode()
	o.ExitCode = intPtr(code)
	if code != 0 {
		o.Kind = RuntimeError
		o.Message = w.stderr.Last()
		if o.Message == "" {
			o.Message = fmt.Sprintf("exit status %d", code)
		}
		return o
	}
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		o.Kind = Crashed
		o.Message = waitErr.Error()
		return o
	}

	if _, err := os.Stat(w.artifact); err != nil {
		o.Kind = RuntimeError
		o.Message = fmt.Sprintf("payload exited without producing %s", filepath.Base(w.artifact))
		return o
	}
	o.Kind = Success
	o.ArtifactPath = w.artifact
	o.Trace = ""
	return o
}
