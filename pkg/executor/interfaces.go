package executor

import (
	"errors"
	"io"
	"io/fs"
	"time"
)

// ErrAuthRejected is returned (wrapped) by Session.Authenticate when the
// server refused the credentials, as opposed to a transport failure.
var ErrAuthRejected = errors.New("credentials rejected")

// SessionProvider opens transports to remote hosts. It owns the wire
// protocol; the executor only drives the lifecycle.
type SessionProvider interface {
	Connect(addr string, timeout time.Duration) (Session, error)
}

// Session is one authenticated (or authenticating) connection. It is
// owned by exactly one worker and never shared.
type Session interface {
	// Authenticate performs the protocol handshake and password
	// authentication under the deadline set by Connect.
	Authenticate(user, password string) error
	// LiftDeadline removes the connect deadline so the operation phase is
	// not bounded by it.
	LiftDeadline() error
	OpenCommand() (CommandChannel, error)
	OpenUpload(remotePath string, mode fs.FileMode, size int64) (UploadStream, error)
	Close() error
}

// CommandChannel runs one remote command.
type CommandChannel interface {
	Setenv(name, value string) error
	Start(command string) error
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the remote side closes the channel and returns the
	// command's exit status.
	Wait() (int, error)
	Close() error
}

// UploadStream receives exactly the number of bytes declared when it was
// opened, then must be shut down with all four phases in order.
type UploadStream interface {
	io.Writer
	SendEOF() error
	WaitEOF() error
	Close() error
	WaitClosed() error
}
