package supervisor

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/voice-toolkit/internal/core"
)

const (
	pythonExt          = ".py"
	defaultInterpreter = "python"
)

// FindAvailablePort returns the first port in [first, last] that can be
// bound on host.
func FindAvailablePort(host string, first, last int) (int, error) {
	for port := first; port <= last; port++ {
		listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}

		closeErr := listener.Close()
		if closeErr != nil {
			continue
		}

		return port, nil
	}

	return 0, fmt.Errorf("%w: %s %d..%d", ErrNoAvailablePort, host, first, last)
}

// BuildCommand returns the argv used to launch the server. Python scripts
// run through the interpreter; anything else is executed directly. The
// endpoint is always passed as --host and --port.
func BuildCommand(executablePath, interpreter string, extraArgs []string, endpoint core.Endpoint) []string {
	argv := make([]string, 0, len(extraArgs)+6)

	if strings.EqualFold(filepath.Ext(executablePath), pythonExt) {
		if interpreter == "" {
			interpreter = defaultInterpreter
		}

		argv = append(argv, interpreter)
	}

	argv = append(argv, executablePath)
	argv = append(argv, extraArgs...)
	argv = append(argv,
		"--host", endpoint.Host,
		"--port", strconv.Itoa(endpoint.Port),
	)

	return argv
}
