package deadline

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	// minAlarm is the shortest interval programmed into the alarm source.
	// A zero interval would disarm the timer instead.
	minAlarm = time.Millisecond

	// alarmSlack lets an entry fire when its deadline is within this margin of
	// the signal arrival, absorbing clock granularity differences.
	alarmSlack = time.Millisecond
)

// alarmSource is a single process-wide one-shot alarm. Set(0) disarms it.
type alarmSource interface {
	Set(d time.Duration) error
	C() <-chan os.Signal
}

type alarmEntry struct {
	at time.Time
	fn func()
}

// alarmClock multiplexes any number of pending deadlines onto one alarmSource,
// keeping the source programmed for the earliest entry.
type alarmClock struct {
	src    alarmSource
	logger *slog.Logger

	mu      sync.Mutex
	pending map[uint64]alarmEntry
	nextID  uint64
}

func newAlarmClock(src alarmSource, logger *slog.Logger) *alarmClock {
	c := &alarmClock{
		src:     src,
		logger:  logger,
		pending: make(map[uint64]alarmEntry),
	}
	go c.loop()
	return c
}

func (c *alarmClock) schedule(at time.Time, fn func()) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.pending[id] = alarmEntry{at: at, fn: fn}
	if err := c.reprogram(time.Now()); err != nil {
		delete(c.pending, id)
		return 0, err
	}
	return id, nil
}

func (c *alarmClock) cancel(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return
	}
	delete(c.pending, id)
	if err := c.reprogram(time.Now()); err != nil {
		c.logger.Warn("reprogram alarm after cancel", "error", err)
	}
}

// loop runs for the life of the process; the clock is a process singleton.
func (c *alarmClock) loop() {
	for range c.src.C() {
		c.dispatch()
	}
}

// dispatch fires every due entry. Callbacks run after the lock is released
// because they may cancel other entries.
func (c *alarmClock) dispatch() {
	now := time.Now()

	c.mu.Lock()
	var due []func()
	for id, e := range c.pending {
		if !e.at.After(now.Add(alarmSlack)) {
			due = append(due, e.fn)
			delete(c.pending, id)
		}
	}
	if err := c.reprogram(now); err != nil {
		c.logger.Warn("reprogram alarm after dispatch", "error", err)
	}
	c.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// reprogram points the source at the earliest pending entry. Callers hold mu.
func (c *alarmClock) reprogram(now time.Time) error {
	var earliest time.Time
	for _, e := range c.pending {
		if earliest.IsZero() || e.at.Before(earliest) {
			earliest = e.at
		}
	}
	if earliest.IsZero() {
		return c.src.Set(0)
	}
	return c.src.Set(max(earliest.Sub(now), minAlarm))
}

// Interrupt is the interval-timer strategy. A due handle raises an in-band
// interrupt in the target rather than killing it; the worker observes the
// interrupt and unwinds on its own.
type Interrupt struct {
	clock *alarmClock
}

// Compile-time interface satisfaction check.
var _ Primitive = (*Interrupt)(nil)

var (
	sharedClockOnce sync.Once
	sharedClock     *alarmClock
	sharedClockErr  error
)

// NewInterrupt returns the interrupt primitive backed by the process-wide
// interval timer. It fails with ErrUnsupportedPlatform where the host has no
// interval-timer interrupts.
func NewInterrupt(logger *slog.Logger) (*Interrupt, error) {
	sharedClockOnce.Do(func() {
		src, err := newAlarmSource()
		if err != nil {
			sharedClockErr = err
			return
		}
		sharedClock = newAlarmClock(src, logger)
	})
	if sharedClockErr != nil {
		return nil, sharedClockErr
	}
	return &Interrupt{clock: sharedClock}, nil
}

// Strategy returns StrategyInterrupt.
func (p *Interrupt) Strategy() Strategy {
	return StrategyInterrupt
}

// Arm schedules an interrupt of target after timeout.
func (p *Interrupt) Arm(timeout time.Duration, target Target) (*Handle, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	h := newHandle(time.Now().Add(timeout))
	id, err := p.clock.schedule(h.Deadline(), func() {
		if h.fire() {
			target.Interrupt()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("arm interval timer: %w", err)
	}
	h.setStop(func() { p.clock.cancel(id) })
	return h, nil
}
