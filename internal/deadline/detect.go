package deadline

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// Strategy preference names accepted by Detect.
const (
	PreferAuto      = "auto"
	PreferInterrupt = string(StrategyInterrupt)
	PreferWatchdog  = string(StrategyWatchdog)
)

// InterruptSupported reports whether this build can deliver interval-timer
// interrupts.
func InterruptSupported() bool {
	return interruptSupported
}

// Detect selects the deadline primitive for the process. It is meant to be
// called once at startup; the result is treated as immutable configuration.
func Detect(preference string, logger *slog.Logger) (Primitive, error) {
	switch strings.ToLower(strings.TrimSpace(preference)) {
	case "", PreferAuto:
		if !interruptSupported {
			return NewWatchdog(logger), nil
		}
		p, err := NewInterrupt(logger)
		if err != nil {
			logger.Warn("interval timer unavailable, using watchdog", "error", err)
			return NewWatchdog(logger), nil
		}
		return p, nil
	case PreferInterrupt:
		if !interruptSupported {
			return nil, fmt.Errorf("%w: interrupt strategy requires interval timers, not available on %s",
				ErrUnsupportedPlatform, runtime.GOOS)
		}
		p, err := NewInterrupt(logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case PreferWatchdog:
		return NewWatchdog(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, preference)
	}
}
