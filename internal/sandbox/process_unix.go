//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const interruptSignalSupported = true

// configureCommand puts the child in its own process group so that signals
// reach everything it spawns.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

func interruptProcess(p *os.Process) error {
	return signalGroup(p, unix.SIGINT)
}

// stopProcess sends SIGTERM on the first attempt and SIGKILL afterwards.
func stopProcess(p *os.Process, attempt int) (string, error) {
	sig := unix.SIGKILL
	if attempt == 0 {
		sig = unix.SIGTERM
	}
	return unix.SignalName(sig), signalGroup(p, sig)
}

// groupAlive reports whether any member of the process group led by p
// still exists.
func groupAlive(p *os.Process) bool {
	return !errors.Is(signalGroup(p, 0), os.ErrProcessDone)
}

// killGroup sends SIGKILL to whatever is left of the process group.
func killGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func exitSignal(state *os.ProcessState) (string, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return "", false
	}
	return unix.SignalName(ws.Signal()), true
}
