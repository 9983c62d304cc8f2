package supervisor

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/book-expert/voice-toolkit/internal/core"
)

const defaultLineBuffer = 4096

// monitor reads the subprocess pipes line by line, tees every line into the
// server log and publishes it on a shared channel. When no consumer keeps up
// the channel fills and further lines are only written to the log.
type monitor struct {
	lines    chan core.Line
	finished chan struct{}
	logMu    sync.Mutex
	log      io.Writer
	wg       sync.WaitGroup
	dropped  atomic.Int64
}

func newMonitor(stdout, stderr io.Reader, log io.Writer, buffer int) *monitor {
	if buffer <= 0 {
		buffer = defaultLineBuffer
	}

	if log == nil {
		log = io.Discard
	}

	m := &monitor{
		lines:    make(chan core.Line, buffer),
		finished: make(chan struct{}),
		log:      log,
	}

	m.wg.Add(2)

	go m.read(stdout, core.Stdout)
	go m.read(stderr, core.Stderr)

	go func() {
		m.wg.Wait()
		close(m.lines)
		close(m.finished)
	}()

	return m
}

func (m *monitor) read(r io.Reader, stream core.Stream) {
	defer m.wg.Done()

	reader := bufio.NewReader(r)

	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 {
			m.publish(stream, raw)
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				m.publish(stream, []byte(err.Error()+"\n"))
			}

			return
		}
	}
}

func (m *monitor) publish(stream core.Stream, raw []byte) {
	m.logMu.Lock()
	_, _ = m.log.Write(raw)
	m.logMu.Unlock()

	text := bytes.TrimRight(raw, "\r\n")

	select {
	case m.lines <- core.Line{Stream: stream, Text: text}:
	default:
		m.dropped.Add(1)
	}
}

// done is closed once both pipes reached EOF or were closed.
func (m *monitor) done() <-chan struct{} {
	return m.finished
}
