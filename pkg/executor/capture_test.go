package executor

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedBuffer(t *testing.T) {
	tests := []struct {
		name      string
		limit     int64
		writes    []string
		want      string
		truncated bool
	}{
		{"under limit", 10, []string{"abc", "def"}, "abcdef", false},
		{"exactly limit", 6, []string{"abc", "def"}, "abcdef", false},
		{"split write", 4, []string{"abc", "def"}, "abcd", true},
		{"after full", 3, []string{"abc", "def"}, "abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &boundedBuffer{limit: tt.limit}
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, string(b.Bytes()))
			assert.Equal(t, tt.truncated, b.truncated)
		})
	}
}

// A remote that writes all of stderr before any stdout must not stall a
// reader: the pipes are unbuffered, so sequential reads would deadlock.
func TestCaptureStreamsConcurrently(t *testing.T) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	big := bytes.Repeat([]byte("e"), 256<<10)
	go func() {
		errW.Write(big)
		outW.Write([]byte("done\n"))
		errW.Close()
		outW.Close()
	}()

	type result struct {
		c   captured
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		c, err := captureStreams(outR, errR, DefaultMaxOutput)
		resCh <- result{c, err}
	}()

	select {
	case res := <-resCh:
		require.NoError(t, res.err)
		assert.Equal(t, "done\n", string(res.c.stdout))
		assert.Equal(t, len(big), len(res.c.stderr))
		assert.False(t, res.c.stderrTruncated)
	case <-time.After(5 * time.Second):
		t.Fatal("capture stalled")
	}
}

func TestCaptureStreamsCapsAndDrains(t *testing.T) {
	out := strings.NewReader(strings.Repeat("o", 100))
	errOut := strings.NewReader("warn")

	c, err := captureStreams(out, errOut, 10)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("o", 10), string(c.stdout))
	assert.True(t, c.stdoutTruncated)
	assert.Equal(t, "warn", string(c.stderr))
	assert.Equal(t, 0, out.Len(), "remainder must be drained")
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestCaptureStreamsReadError(t *testing.T) {
	boom := errors.New("channel reset")
	_, err := captureStreams(strings.NewReader("ok"), failingReader{boom}, 10)
	assert.ErrorIs(t, err, boom)
}
