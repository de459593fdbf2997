package executor

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxOutput is the per-stream capture ceiling.
const DefaultMaxOutput int64 = 1 << 20

// boundedBuffer keeps the first limit bytes written to it and silently
// discards the rest, so the remote writer is never blocked by a full window.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - int64(b.buf.Len())
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) Bytes() []byte { return b.buf.Bytes() }

type captured struct {
	stdout, stderr                   []byte
	stdoutTruncated, stderrTruncated bool
}

// captureStreams reads stdout and stderr as two sibling tasks and returns
// once both have reached EOF. Reading them concurrently keeps a process
// that fills one stream from stalling capture of the other.
func captureStreams(stdout, stderr io.Reader, limit int64) (captured, error) {
	out := &boundedBuffer{limit: limit}
	errOut := &boundedBuffer{limit: limit}

	var g errgroup.Group
	g.Go(func() error {
		if _, err := io.Copy(out, stdout); err != nil {
			return fmt.Errorf("read stdout: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := io.Copy(errOut, stderr); err != nil {
			return fmt.Errorf("read stderr: %w", err)
		}
		return nil
	})
	err := g.Wait()

	return captured{
		stdout:          out.Bytes(),
		stderr:          errOut.Bytes(),
		stdoutTruncated: out.truncated,
		stderrTruncated: errOut.truncated,
	}, err
}
