//go:build !unix

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

func isolate(*exec.Cmd) {}

func interruptGroup(process *os.Process) error {
	err := process.Signal(os.Interrupt)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}

	return killGroup(process)
}

func killGroup(process *os.Process) error {
	err := process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	return nil
}
