package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/andrej220/pssh/internal/lg"
	"github.com/andrej220/pssh/pkg/models"
	"github.com/spf13/afero"
)

// Environment variables set on every command channel. Servers commonly
// refuse setenv requests, so failures are ignored.
const (
	EnvHost = "PSSH_HOST"
	EnvPort = "PSSH_PORT"
)

// Executor drives one host through connect, authenticate, operate and
// close. Every failure is returned as a *models.HostError.
type Executor struct {
	provider  SessionProvider
	fs        afero.Fs
	maxOutput int64
}

type Option func(*Executor)

// WithFs sets the filesystem local upload sources are read from.
func WithFs(fs afero.Fs) Option {
	return func(e *Executor) { e.fs = fs }
}

// WithMaxOutput sets the per-stream capture ceiling in bytes.
func WithMaxOutput(n int64) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxOutput = n
		}
	}
}

func New(provider SessionProvider, opts ...Option) *Executor {
	e := &Executor{
		provider:  provider,
		fs:        afero.NewOsFs(),
		maxOutput: DefaultMaxOutput,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op against host. ctx only carries the logger: once started,
// a host's operation runs to completion or to a protocol error.
func (e *Executor) Execute(ctx context.Context, host models.HostSpec, op models.Operation) (models.Outcome, error) {
	logger := lg.FromContext(ctx).With(lg.String("host", host.Addr()), lg.Int("index", host.Index))

	sess, err := e.open(host)
	if err != nil {
		logger.Debug("session setup failed", lg.Err(err))
		return models.Outcome{}, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Debug("close session", lg.Err(cerr))
		}
	}()

	switch op.Kind {
	case models.OpRunCommand:
		return e.runCommand(logger, sess, host, op.Command)
	case models.OpSendFile:
		return e.sendFile(logger, sess, op.LocalPath, op.RemotePath)
	}
	return models.Outcome{}, models.NewHostError(models.StageProtocol, "dispatch", fmt.Errorf("unsupported operation %s", op.Kind))
}

func (e *Executor) open(host models.HostSpec) (Session, error) {
	sess, err := e.provider.Connect(host.Addr(), host.ConnectTimeout)
	if err != nil {
		return nil, models.NewHostError(models.StageConnect, "connect", err)
	}

	if err := sess.Authenticate(host.Username, host.Password); err != nil {
		sess.Close()
		return nil, classifyAuth(err)
	}

	if err := sess.LiftDeadline(); err != nil {
		sess.Close()
		return nil, models.NewHostError(models.StageProtocol, "lift deadline", err)
	}
	return sess, nil
}

func classifyAuth(err error) error {
	if errors.Is(err, ErrAuthRejected) {
		return models.NewHostError(models.StageAuth, "authenticate", err)
	}
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return models.NewHostError(models.StageConnect, "handshake", err)
	}
	return models.NewHostError(models.StageProtocol, "handshake", err)
}

func (e *Executor) runCommand(logger lg.Logger, sess Session, host models.HostSpec, command string) (models.Outcome, error) {
	ch, err := sess.OpenCommand()
	if err != nil {
		return models.Outcome{}, models.NewHostError(models.StageProtocol, "open channel", err)
	}
	defer ch.Close()

	if err := ch.Setenv(EnvHost, host.Host); err != nil {
		logger.Debug("setenv refused", lg.String("name", EnvHost), lg.Err(err))
	}
	if err := ch.Setenv(EnvPort, strconv.Itoa(host.Port)); err != nil {
		logger.Debug("setenv refused", lg.String("name", EnvPort), lg.Err(err))
	}

	if err := ch.Start(command); err != nil {
		return models.Outcome{}, models.NewHostError(models.StageProtocol, "exec", err)
	}

	out, err := captureStreams(ch.Stdout(), ch.Stderr(), e.maxOutput)
	if err != nil {
		return models.Outcome{}, models.NewHostError(models.StageProtocol, "capture", err)
	}

	status, err := ch.Wait()
	if err != nil {
		return models.Outcome{}, models.NewHostError(models.StageProtocol, "wait", err)
	}
	logger.Debug("command finished", lg.Int("exit", status))

	return models.Outcome{
		Kind:            models.CommandResult,
		ExitStatus:      status,
		Stdout:          out.stdout,
		Stderr:          out.stderr,
		StdoutTruncated: out.stdoutTruncated,
		StderrTruncated: out.stderrTruncated,
	}, nil
}

// readTracker remembers whether a copy failed on the local side.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

func (e *Executor) sendFile(logger lg.Logger, sess Session, localPath, remotePath string) (models.Outcome, error) {
	f, err := e.fs.Open(localPath)
	if err != nil {
		return models.Outcome{}, models.NewHostError(models.StageLocalIO, "open", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.Outcome{}, models.NewHostError(models.StageLocalIO, "stat", err)
	}
	if !info.Mode().IsRegular() {
		return models.Outcome{}, models.NewHostError(models.StageLocalIO, "stat", fmt.Errorf("%s is not a regular file", localPath))
	}
	size, mode := info.Size(), info.Mode().Perm()

	stream, err := sess.OpenUpload(remotePath, mode, size)
	if err != nil {
		return models.Outcome{}, models.NewHostError(models.StageProtocol, "open upload", err)
	}

	src := &readTracker{r: f}
	n, err := io.Copy(stream, src)
	if err != nil {
		if src.err != nil {
			return models.Outcome{}, models.NewHostError(models.StageLocalIO, "read", src.err)
		}
		return models.Outcome{}, models.NewHostError(models.StageProtocol, "write", err)
	}
	if n != size {
		return models.Outcome{}, models.NewHostError(models.StageProtocol, "write", fmt.Errorf("sent %d of %d bytes", n, size))
	}

	phases := []struct {
		name string
		fn   func() error
	}{
		{"send eof", stream.SendEOF},
		{"wait eof", stream.WaitEOF},
		{"close", stream.Close},
		{"wait closed", stream.WaitClosed},
	}
	for _, p := range phases {
		if err := p.fn(); err != nil {
			return models.Outcome{}, models.NewHostError(models.StageProtocol, p.name, err)
		}
	}
	logger.Debug("upload finished", lg.String("remote", remotePath), lg.Int("bytes", int(n)))

	return models.Outcome{Kind: models.TransferComplete, Bytes: n, Mode: mode}, nil
}
