package tools

import (
	"bytes"
	"errors"

	"github.com/book-expert/voice-toolkit/internal/dispatch"
)

// User-facing failure messages, kept in the language of the server's users.
const (
	// DetailsSuffix points the user to the server's terminal output.
	DetailsSuffix = "（详情请见终端输出信息）"

	// PartialFailureMessage is reported when stdout carries a traceback but
	// stderr is clean.
	PartialFailureMessage = "执行完成，但疑似中途出错\n" + DetailsSuffix
)

var (
	errorNeedle     = []byte("error")
	tracebackNeedle = []byte("traceback")
)

// Sentinel errors matched by CallError through errors.Is.
var (
	ErrCallFailed     = errors.New("tool call failed")
	ErrPartialFailure = errors.New("tool call finished with a suspected failure")
)

// Kind classifies a failed tool call.
type Kind string

const (
	// KindError means the server wrote "error" to stderr.
	KindError Kind = "error"
	// KindTraceback means the server wrote a traceback to stdout.
	KindTraceback Kind = "traceback"
)

// CallError is a tool call classified as failed from the server's output.
// Message is the text shown to the user.
type CallError struct {
	Kind    Kind
	Message string
}

func (e *CallError) Error() string {
	return e.Message
}

// Unwrap maps the kind onto its sentinel error.
func (e *CallError) Unwrap() error {
	if e.Kind == KindTraceback {
		return ErrPartialFailure
	}

	return ErrCallFailed
}

// Classify applies the output heuristic: "error" anywhere in stderr is a
// failure, otherwise "traceback" anywhere in stdout is a suspected failure.
// Matching is case-insensitive. It is best-effort: a successful run that
// merely mentions "error" on stderr is reported as failed.
func Classify(out *dispatch.Output) error {
	if out == nil {
		return nil
	}

	if bytes.Contains(bytes.ToLower(out.Stderr), errorNeedle) {
		return &CallError{Kind: KindError, Message: string(out.Stderr) + DetailsSuffix}
	}

	if bytes.Contains(bytes.ToLower(out.Stdout), tracebackNeedle) {
		return &CallError{Kind: KindTraceback, Message: PartialFailureMessage}
	}

	return nil
}
