//go:build linux

package supervisor_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// processGone reports whether pid no longer names a live process. Zombies
// waiting to be reaped by their new parent count as gone.
func processGone(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}

	// The state follows the parenthesised command name.
	end := bytes.LastIndexByte(stat, ')')
	if end < 0 || end+2 >= len(stat) {
		return true
	}

	return stat[end+2] == 'Z'
}

func TestSupervisorStopReachesForkedWorkers(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "server.log")
	sup := startHelper(t, "fork", logPath)
	waitReady(t, sup)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	started := time.Now()
	require.NoError(t, sup.Stop(ctx))
	assert.Less(t, time.Since(started), 5*time.Second)

	select {
	case <-sup.Done():
	default:
		t.Fatal("process should be reaped after Stop")
	}

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var workerPid int

	for line := range strings.Lines(string(data)) {
		if _, scanErr := fmt.Sscanf(line, "worker pid %d", &workerPid); scanErr == nil {
			break
		}
	}

	require.Positive(t, workerPid)
	assert.Eventually(t, func() bool { return processGone(workerPid) }, 5*time.Second, 50*time.Millisecond)
}
