// Package core defines the shared types and interfaces of the voice toolkit.
package core

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Endpoint is the address the inference server is bound to. It is fixed
// when a session starts and never changes afterwards.
type Endpoint struct {
	Host string
	Port int
}

// Marker is the substring the server prints once it is listening.
func (e Endpoint) Marker() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Address returns the dialable host:port form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// BaseURL returns the http base URL of the server.
func (e Endpoint) BaseURL() string {
	return "http://" + e.Address()
}

// Stream identifies which subprocess pipe a line came from.
type Stream int

const (
	// Stdout is the standard output stream.
	Stdout Stream = iota
	// Stderr is the standard error stream.
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}

	return "stdout"
}

// Line is one line of subprocess output, without its trailing newline.
type Line struct {
	Stream Stream
	Text   []byte
}

// LineSource exposes the shared stream of subprocess output lines. The
// channel closes once the subprocess has exited and both pipes are drained.
type LineSource interface {
	Lines() <-chan Line
}

// ProcessStopper stops a supervised process, waiting at most until ctx ends.
type ProcessStopper interface {
	Stop(ctx context.Context) error
}

// ArtifactStore defines the interface for interacting with a key-value blob store.
type ArtifactStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	UploadFile(ctx context.Context, key, path string) error
}
