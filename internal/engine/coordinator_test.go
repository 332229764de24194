package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/engine"
	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/sandbox"
)

func testRequest(t *testing.T, timeoutS float64) engine.ExecutionRequest {
	t.Helper()
	req, err := engine.NewExecutionRequest(sandbox.Payload{
		Runtime: model.RuntimeJS,
		Code:    `node("a");`,
		Format:  model.FormatDOT,
	}, timeoutS, t.TempDir(), model.IsolationAuto)
	if err != nil {
		t.Fatalf("NewExecutionRequest: %v", err)
	}
	return req
}

func strategies() map[string]deadline.Primitive {
	return map[string]deadline.Primitive{
		"watchdog":  deadline.NewWatchdog(testLogger()),
		"interrupt": newInterruptPrimitive(),
	}
}

func TestCoordinatorOutcomeBeforeDeadline(t *testing.T) {
	for name, p := range strategies() {
		t.Run(name, func(t *testing.T) {
			rn := &stubRunner{caps: processCaps(), delay: 10 * time.Millisecond, outcome: sandbox.WorkerOutcome{Kind: sandbox.Success}}
			c := engine.NewCoordinator(p, testLogger())

			res := c.Run(context.Background(), rn, testRequest(t, 1))
			if res.TimedOut || res.Err != nil || res.Outcome == nil {
				t.Fatalf("resolution = %+v, want outcome", res)
			}
			if res.Outcome.Kind != sandbox.Success {
				t.Errorf("Kind = %v, want success", res.Outcome.Kind)
			}
			if n := rn.workers()[0].terminates.Load(); n != 0 {
				t.Errorf("Terminate called %d times on a finished worker", n)
			}
		})
	}
}

func TestCoordinatorTimeout(t *testing.T) {
	for name, p := range strategies() {
		t.Run(name, func(t *testing.T) {
			rn := &stubRunner{caps: processCaps()}
			c := engine.NewCoordinator(p, testLogger())

			start := time.Now()
			res := c.Run(context.Background(), rn, testRequest(t, 0.2))
			elapsed := time.Since(start)

			if !res.TimedOut || res.Err != nil {
				t.Fatalf("resolution = %+v, want timeout", res)
			}
			if res.Timeout != 200*time.Millisecond {
				t.Errorf("Timeout = %s, want 200ms", res.Timeout)
			}
			if elapsed < 200*time.Millisecond || elapsed > time.Second {
				t.Errorf("resolved after %s, want just over 200ms", elapsed)
			}
			if rn.workers()[0].terminates.Load() == 0 {
				t.Error("Terminate was not invoked on a timed out worker")
			}
		})
	}
}

func TestCoordinatorInterruptedOutcomeIsTimeout(t *testing.T) {
	// A cooperative worker finishes the moment it is interrupted; the outcome
	// must never win over the deadline that caused it.
	for i := 0; i < 20; i++ {
		rn := &stubRunner{caps: threadCaps()}
		c := engine.NewCoordinator(newInterruptPrimitive(), testLogger())

		res := c.Run(context.Background(), rn, testRequest(t, 0.02))
		if !res.TimedOut {
			t.Fatalf("run %d: resolution = %+v, want timeout", i, res)
		}
	}
}

func TestCoordinatorRejectsUnkillableRunnerUnderWatchdog(t *testing.T) {
	rn := &stubRunner{caps: threadCaps(), delay: time.Millisecond}
	c := engine.NewCoordinator(deadline.NewWatchdog(testLogger()), testLogger())

	res := c.Run(context.Background(), rn, testRequest(t, 1))
	if !errors.Is(res.Err, sandbox.ErrIsolation) {
		t.Fatalf("Err = %v, want ErrIsolation", res.Err)
	}
	if len(rn.workers()) != 0 {
		t.Error("worker started despite unsafe pairing")
	}
	if got := engine.Normalize(res); got.ErrorKind != model.ErrorKindIsolation {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, model.ErrorKindIsolation)
	}
}

func TestCoordinatorStartFailure(t *testing.T) {
	startErr := errors.New("no such binary")
	rn := &stubRunner{caps: processCaps(), startErr: startErr}
	c := engine.NewCoordinator(deadline.NewWatchdog(testLogger()), testLogger())

	start := time.Now()
	res := c.Run(context.Background(), rn, testRequest(t, 5))
	if !errors.Is(res.Err, startErr) {
		t.Fatalf("Err = %v, want %v", res.Err, startErr)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("start failure took %s to resolve", elapsed)
	}
}

func TestCoordinatorTerminationFailure(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), termErr: sandbox.ErrIsolation}
	c := engine.NewCoordinator(deadline.NewWatchdog(testLogger()), testLogger())

	res := c.Run(context.Background(), rn, testRequest(t, 0.05))
	if !res.TimedOut || !errors.Is(res.Err, sandbox.ErrIsolation) {
		t.Fatalf("resolution = %+v, want timeout with isolation error", res)
	}

	got := engine.Normalize(res)
	if got.Status != model.StatusFailed || got.ErrorKind != model.ErrorKindIsolation {
		t.Errorf("result = %+v, want failed/isolation_failure", got)
	}
	if !strings.Contains(got.Error, "timed out after 50ms") {
		t.Errorf("Error = %q, want it to name the timeout", got.Error)
	}
}

func TestCoordinatorCancellation(t *testing.T) {
	rn := &stubRunner{caps: processCaps()}
	c := engine.NewCoordinator(deadline.NewWatchdog(testLogger()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := c.Run(ctx, rn, testRequest(t, 10))
	if !res.Canceled || res.Err != nil {
		t.Fatalf("resolution = %+v, want canceled", res)
	}
	if rn.workers()[0].terminates.Load() == 0 {
		t.Error("Terminate was not invoked on a canceled worker")
	}
}

func TestCoordinatorAlreadyCanceled(t *testing.T) {
	rn := &stubRunner{caps: processCaps(), delay: time.Millisecond}
	c := engine.NewCoordinator(deadline.NewWatchdog(testLogger()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Run(ctx, rn, testRequest(t, 1))
	if !res.Canceled {
		t.Fatalf("resolution = %+v, want canceled", res)
	}
	if len(rn.workers()) != 0 {
		t.Error("worker started for a canceled context")
	}
}

func TestCoordinatorRuntimeErrorPassesThrough(t *testing.T) {
	exit := 3
	rn := &stubRunner{caps: processCaps(), delay: time.Millisecond, outcome: sandbox.WorkerOutcome{
		Kind: sandbox.RuntimeError, Message: "ZeroDivisionError", ExitCode: &exit,
	}}
	c := engine.NewCoordinator(deadline.NewWatchdog(testLogger()), testLogger())

	got := engine.Normalize(c.Run(context.Background(), rn, testRequest(t, 1)))
	if got.Status != model.StatusFailed || got.ErrorKind != model.ErrorKindRuntime {
		t.Fatalf("result = %+v, want failed/payload_runtime_error", got)
	}
	if got.Error != "ZeroDivisionError" || got.ExitCode == nil || *got.ExitCode != 3 {
		t.Errorf("result = %+v, want message and exit code preserved", got)
	}
}
