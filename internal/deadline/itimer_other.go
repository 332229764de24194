//go:build !linux

package deadline

import (
	"fmt"
	"runtime"
)

const interruptSupported = false

func newAlarmSource() (alarmSource, error) {
	return nil, fmt.Errorf("%w: no interval-timer interrupts on %s", ErrUnsupportedPlatform, runtime.GOOS)
}
