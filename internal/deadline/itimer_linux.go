//go:build linux

package deadline

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const interruptSupported = true

// itimerSource drives ITIMER_REAL and receives SIGALRM through os/signal.
type itimerSource struct {
	ch chan os.Signal
}

func newAlarmSource() (alarmSource, error) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGALRM)
	return &itimerSource{ch: ch}, nil
}

func (s *itimerSource) Set(d time.Duration) error {
	var it unix.Itimerval
	if d > 0 {
		it.Value = unix.NsecToTimeval(d.Nanoseconds())
	}
	if _, err := unix.Setitimer(unix.ItimerReal, it); err != nil {
		return fmt.Errorf("setitimer: %w", err)
	}
	return nil
}

func (s *itimerSource) C() <-chan os.Signal {
	return s.ch
}
