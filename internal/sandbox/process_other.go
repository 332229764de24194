//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package sandbox

import (
	"errors"
	"os"
	"os/exec"
)

const interruptSignalSupported = false

var errNoInterrupt = errors.New("in-band interrupt unsupported for processes on this platform")

func configureCommand(*exec.Cmd) {}

func interruptProcess(*os.Process) error {
	return errNoInterrupt
}

// stopProcess kills the process. There are no process groups to signal.
func stopProcess(p *os.Process, _ int) (string, error) {
	return "kill", p.Kill()
}

// groupAlive is false once the process is reaped; there is no group to outlive it.
func groupAlive(*os.Process) bool { return false }

func killGroup(*os.Process) error { return nil }

func exitSignal(*os.ProcessState) (string, bool) {
	return "", false
}
