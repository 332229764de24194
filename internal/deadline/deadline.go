package deadline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Strategy names a deadline mechanism.
type Strategy string

// Supported strategies.
const (
	StrategyInterrupt Strategy = "interrupt"
	StrategyWatchdog  Strategy = "watchdog"
)

var (
	// ErrUnsupportedPlatform is returned when the requested strategy cannot run on this host.
	ErrUnsupportedPlatform = errors.New("deadline strategy unsupported on this platform")

	// ErrUnknownStrategy is returned for an unrecognized strategy name.
	ErrUnknownStrategy = errors.New("unknown deadline strategy")

	// ErrInvalidTimeout is returned when Arm is called with a non-positive timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")
)

// Target is the isolation boundary a deadline acts on when it fires.
type Target interface {
	// Interrupt asks the worker to unwind cooperatively.
	Interrupt()
	// Terminate stops the worker by force where the isolation unit allows it.
	Terminate() error
}

// Primitive arms deadlines. Implementations notify at most once per handle.
type Primitive interface {
	Strategy() Strategy
	Arm(timeout time.Duration, target Target) (*Handle, error)
}

// State is the lifecycle state of a Handle.
type State int32

// Handle states. A handle leaves Armed exactly once.
const (
	Armed State = iota
	Fired
	Disarmed
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Disarmed:
		return "disarmed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handle represents one armed deadline.
type Handle struct {
	state    atomic.Int32
	deadline time.Time
	fired    chan struct{}
	firedAt  time.Time

	mu       sync.Mutex
	released bool
	stop     func()
}

func newHandle(deadline time.Time) *Handle {
	return &Handle{
		deadline: deadline,
		fired:    make(chan struct{}),
	}
}

// Deadline returns the instant the handle is due to fire.
func (h *Handle) Deadline() time.Time {
	return h.deadline
}

// State reports the current state of the handle.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Fired returns a channel that is closed when the deadline fires. It is never
// closed for a disarmed handle.
func (h *Handle) Fired() <-chan struct{} {
	return h.fired
}

// FiredAt returns when the handle fired, or the zero time if it has not.
func (h *Handle) FiredAt() time.Time {
	select {
	case <-h.fired:
		return h.firedAt
	default:
		return time.Time{}
	}
}

// Disarm cancels a pending notification. It reports whether this call moved
// the handle from Armed to Disarmed; it returns false if the handle already
// fired or was already disarmed.
func (h *Handle) Disarm() bool {
	if !h.state.CompareAndSwap(int32(Armed), int32(Disarmed)) {
		return false
	}
	h.release()
	return true
}

// fire moves the handle from Armed to Fired. Only the winning caller may
// notify the target.
func (h *Handle) fire() bool {
	if !h.state.CompareAndSwap(int32(Armed), int32(Fired)) {
		return false
	}
	h.firedAt = time.Now()
	close(h.fired)
	h.release()
	return true
}

// setStop installs the function that cancels the underlying timer. If the
// handle was already released, stop is not retained.
func (h *Handle) setStop(stop func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.stop = stop
}

func (h *Handle) release() {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	h.released = true
	h.mu.Unlock()
	if stop != nil {
		stop()
	}
}
