package deadline

import (
	"log/slog"
	"time"
)

// Watchdog is the portable strategy. Each handle parks a runtime timer; on
// expiry the watchdog terminates the target's isolation unit instead of
// delivering an in-band interrupt.
type Watchdog struct {
	logger *slog.Logger
}

// Compile-time interface satisfaction check.
var _ Primitive = (*Watchdog)(nil)

// NewWatchdog creates a watchdog primitive.
func NewWatchdog(logger *slog.Logger) *Watchdog {
	return &Watchdog{logger: logger}
}

// Strategy returns StrategyWatchdog.
func (w *Watchdog) Strategy() Strategy {
	return StrategyWatchdog
}

// Arm starts a timer that terminates target after timeout.
func (w *Watchdog) Arm(timeout time.Duration, target Target) (*Handle, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	h := newHandle(time.Now().Add(timeout))
	t := time.AfterFunc(timeout, func() {
		if !h.fire() {
			return
		}
		if err := target.Terminate(); err != nil {
			w.logger.Warn("watchdog terminate failed", "error", err)
		}
	})
	h.setStop(func() { t.Stop() })
	return h, nil
}
