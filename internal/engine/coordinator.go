package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/sandbox"
)

// Coordinator races one worker against its deadline. It holds no per-request
// state and is safe for concurrent use.
type Coordinator struct {
	deadline deadline.Primitive
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator that arms deadlines with p.
func NewCoordinator(p deadline.Primitive, logger *slog.Logger) *Coordinator {
	return &Coordinator{deadline: p, logger: logger}
}

// Strategy returns the active deadline strategy.
func (c *Coordinator) Strategy() deadline.Strategy {
	return c.deadline.Strategy()
}

// CanRun reports whether rn may run under the active strategy. A runner that
// cannot be killed is only bounded when the deadline interrupts it in-band.
func (c *Coordinator) CanRun(rn sandbox.Runner) error {
	caps := rn.Capabilities()
	if !caps.ForcibleTermination && c.deadline.Strategy() != deadline.StrategyInterrupt {
		return fmt.Errorf("%w: %s runner cannot be forcibly terminated and requires the %s strategy, active strategy is %s",
			sandbox.ErrIsolation, caps.Name, deadline.StrategyInterrupt, c.deadline.Strategy())
	}
	return nil
}

// Run starts req on rn, arms the deadline and waits for the first of worker
// completion, deadline expiry or ctx cancellation. Termination is always
// attempted before a timeout or cancellation is returned.
func (c *Coordinator) Run(ctx context.Context, rn sandbox.Runner, req ExecutionRequest) Resolution {
	if err := c.CanRun(rn); err != nil {
		return Resolution{Err: err}
	}
	if ctx.Err() != nil {
		return Resolution{Canceled: true}
	}

	w, err := rn.Start(req.Payload, req.Workdir)
	if err != nil {
		return Resolution{Err: err}
	}

	h, err := c.deadline.Arm(req.Timeout, w)
	if err != nil {
		return Resolution{Err: errors.Join(fmt.Errorf("arm deadline: %w", err), w.Terminate())}
	}

	select {
	case <-w.Done():
		return c.completed(w, h, req)
	case <-h.Fired():
		return c.timedOut(w, h, req)
	case <-ctx.Done():
		if !h.Disarm() {
			return c.timedOut(w, h, req)
		}
		terr := w.Terminate()
		if terr != nil {
			c.logger.Error("terminate canceled worker", "error", terr)
		}
		return Resolution{Canceled: true, Err: terr}
	}
}

// completed resolves a worker that finished first. If the handle fired in
// the meantime the outcome only stands when it was produced before the fire
// and not as a reaction to the interrupt.
func (c *Coordinator) completed(w sandbox.Worker, h *deadline.Handle, req ExecutionRequest) Resolution {
	o, _ := w.Outcome()
	if h.Disarm() {
		return Resolution{Outcome: &o}
	}
	return c.timedOut(w, h, req)
}

func (c *Coordinator) timedOut(w sandbox.Worker, h *deadline.Handle, req ExecutionRequest) Resolution {
	if o, ok := w.Outcome(); ok && !o.Interrupted && !o.FinishedAt.After(h.FiredAt()) {
		return Resolution{Outcome: &o}
	}

	deadlineFired.WithLabelValues(string(c.deadline.Strategy())).Inc()
	err := w.Terminate()
	if err != nil {
		c.logger.Error("terminate timed out worker", "timeout", req.Timeout, "error", err)
		return Resolution{TimedOut: true, Timeout: req.Timeout, Err: err}
	}
	c.logger.Info("deadline fired", "timeout", req.Timeout, "strategy", c.deadline.Strategy())
	return Resolution{TimedOut: true, Timeout: req.Timeout}
}
