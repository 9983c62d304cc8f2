package supervisor

import (
	"bytes"
	"context"
	"iter"

	"github.com/book-expert/voice-toolkit/internal/core"
)

// Readiness consumes lines and yields false for every line that does not
// contain marker and true for the first one that does, then stops. The
// sequence also ends when ctx is done or lines is closed.
func Readiness(ctx context.Context, lines <-chan core.Line, marker string) iter.Seq[bool] {
	needle := []byte(marker)

	return func(yield func(bool) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}

				ready := bytes.Contains(line.Text, needle)
				if !yield(ready) || ready {
					return
				}
			}
		}
	}
}
