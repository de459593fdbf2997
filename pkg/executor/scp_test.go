package executor

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

func noop() error { return nil }

func TestSCPStreamUpload(t *testing.T) {
	stdin := &bufCloser{}
	// ready, header ack, final ack
	stdout := bytes.NewReader([]byte{0, 0, 0})

	s := newSCPStream(stdin, stdout, 5, noop, noop)
	require.NoError(t, s.handshake("/tmp/dir/app.conf", 0o640))

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, s.SendEOF())
	require.NoError(t, s.WaitEOF())
	require.NoError(t, s.Close())
	require.NoError(t, s.WaitClosed())

	assert.Equal(t, "C0640 5 app.conf\nhello\x00", stdin.String())
	assert.True(t, stdin.closed)
}

func TestSCPStreamHeaderRejected(t *testing.T) {
	stdout := bytes.NewReader(append([]byte{0, 1}, []byte("scp: /nope: Permission denied\n")...))
	s := newSCPStream(&bufCloser{}, stdout, 1, noop, noop)

	err := s.handshake("/nope", 0o644)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")
}

func TestSCPStreamShutdownFailures(t *testing.T) {
	t.Run("write beyond declared size", func(t *testing.T) {
		s := newSCPStream(&bufCloser{}, bytes.NewReader(nil), 2, noop, noop)
		_, err := s.Write([]byte("abc"))
		assert.Error(t, err)
	})

	t.Run("short upload", func(t *testing.T) {
		s := newSCPStream(&bufCloser{}, bytes.NewReader(nil), 4, noop, noop)
		_, err := s.Write([]byte("ab"))
		require.NoError(t, err)
		assert.Error(t, s.SendEOF())
	})

	t.Run("final ack is an error", func(t *testing.T) {
		stdout := bytes.NewReader(append([]byte{2}, []byte("disk full\n")...))
		s := newSCPStream(&bufCloser{}, stdout, 0, noop, noop)
		require.NoError(t, s.SendEOF())
		err := s.WaitEOF()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("missing final ack", func(t *testing.T) {
		s := newSCPStream(&bufCloser{}, bytes.NewReader(nil), 0, noop, noop)
		assert.Error(t, s.WaitEOF())
	})

	t.Run("close and wait errors propagate", func(t *testing.T) {
		boom := errors.New("boom")
		s := newSCPStream(&bufCloser{}, bytes.NewReader(nil), 0,
			func() error { return boom },
			func() error { return boom })
		assert.ErrorIs(t, s.Close(), boom)
		assert.ErrorIs(t, s.WaitClosed(), boom)
	})
}
