package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Static errors.
var (
	ErrNoAvailablePort = errors.New("no available port in range")
	ErrStartupTimeout  = errors.New("server did not report readiness before the startup timeout")
	ErrProcessExited   = errors.New("server process exited before reporting readiness")
	ErrExecutableEmpty = errors.New("executable path cannot be empty")
	ErrStopTimeout     = errors.New("server process group did not exit after being killed")
)

// ExecutableNotFoundError is returned when the server executable (or its
// interpreter) cannot be located.
type ExecutableNotFoundError struct {
	Executable string
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("executable not found: %q", e.Executable)
}

// isNotFound reports whether err indicates the executable was not found.
func isNotFound(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return errors.Is(execErr.Err, exec.ErrNotFound)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, syscall.ENOENT)
	}

	return false
}
