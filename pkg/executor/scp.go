package executor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/alessio/shellescape"
	"golang.org/x/crypto/ssh"
)

// scpStream speaks the sink side of the SCP protocol over one channel:
// the remote runs "scp -t" and acknowledges each step with a status byte.
type scpStream struct {
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	size    int64
	written int64
	closeFn func() error
	waitFn  func() error
}

func startSCP(sess *ssh.Session, remotePath string, mode fs.FileMode, size int64) (*scpStream, error) {
	stdin, err := sess.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := sess.Start("scp -qt " + shellescape.Quote(remotePath)); err != nil {
		return nil, fmt.Errorf("start scp: %w", err)
	}

	s := newSCPStream(stdin, stdout, size,
		func() error {
			// The peer usually closes first once scp exits.
			if err := sess.Close(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		},
		func() error {
			err := sess.Wait()
			var missing *ssh.ExitMissingError
			if err == nil || errors.As(err, &missing) {
				// Delivery was already confirmed by the final ack.
				return nil
			}
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return fmt.Errorf("remote scp exited with status %d", exitErr.ExitStatus())
			}
			return err
		})
	if err := s.handshake(remotePath, mode); err != nil {
		return nil, err
	}
	return s, nil
}

func newSCPStream(stdin io.WriteCloser, stdout io.Reader, size int64, closeFn, waitFn func() error) *scpStream {
	return &scpStream{
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		size:    size,
		closeFn: closeFn,
		waitFn:  waitFn,
	}
}

func (s *scpStream) handshake(remotePath string, mode fs.FileMode) error {
	if err := s.readAck(); err != nil {
		return fmt.Errorf("scp not ready: %w", err)
	}
	if _, err := fmt.Fprintf(s.stdin, "C%04o %d %s\n", mode.Perm(), s.size, path.Base(remotePath)); err != nil {
		return fmt.Errorf("send header: %w", err)
	}
	if err := s.readAck(); err != nil {
		return fmt.Errorf("header rejected: %w", err)
	}
	return nil
}

// readAck consumes one status byte: 0 is ok, 1 and 2 are followed by a
// message line.
func (s *scpStream) readAck() error {
	b, err := s.stdout.ReadByte()
	if err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	switch b {
	case 0:
		return nil
	case 1, 2:
		msg, _ := s.stdout.ReadString('\n')
		return fmt.Errorf("scp: %s", strings.TrimSpace(msg))
	}
	return fmt.Errorf("scp: unexpected ack byte %#x", b)
}

func (s *scpStream) Write(p []byte) (int, error) {
	if s.written+int64(len(p)) > s.size {
		return 0, fmt.Errorf("write exceeds declared size %d", s.size)
	}
	n, err := s.stdin.Write(p)
	s.written += int64(n)
	return n, err
}

// SendEOF terminates the file body and half-closes the channel.
func (s *scpStream) SendEOF() error {
	if s.written != s.size {
		return fmt.Errorf("short upload: %d of %d bytes", s.written, s.size)
	}
	if _, err := s.stdin.Write([]byte{0}); err != nil {
		return fmt.Errorf("send terminator: %w", err)
	}
	return s.stdin.Close()
}

// WaitEOF waits for the final acknowledgment and the remote end of stream.
func (s *scpStream) WaitEOF() error {
	if err := s.readAck(); err != nil {
		return err
	}
	if _, err := io.Copy(io.Discard, s.stdout); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

func (s *scpStream) Close() error      { return s.closeFn() }
func (s *scpStream) WaitClosed() error { return s.waitFn() }
