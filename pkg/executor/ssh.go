package executor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHProvider opens sessions with golang.org/x/crypto/ssh.
type SSHProvider struct {
	// HostKeyCallback verifies server keys. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
	dial            func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewSSHProvider(hostKeyCallback ssh.HostKeyCallback) *SSHProvider {
	return &SSHProvider{HostKeyCallback: hostKeyCallback, dial: net.DialTimeout}
}

func (p *SSHProvider) Connect(addr string, timeout time.Duration) (Session, error) {
	dial := p.dial
	if dial == nil {
		dial = net.DialTimeout
	}
	conn, err := dial("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// The handshake and authentication share the connect budget.
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}
	hostKey := p.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	return &sshSession{conn: conn, addr: addr, hostKey: hostKey, timeout: timeout}, nil
}

type sshSession struct {
	conn    net.Conn
	addr    string
	hostKey ssh.HostKeyCallback
	timeout time.Duration
	client  *ssh.Client
}

func (s *sshSession) Authenticate(user, password string) error {
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: s.hostKey,
		Timeout:         s.timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}
	c, chans, reqs, err := ssh.NewClientConn(s.conn, s.addr, config)
	if err != nil {
		if isAuthFailure(err) {
			return fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		return err
	}
	s.client = ssh.NewClient(c, chans, reqs)
	return nil
}

// x/crypto/ssh reports rejected credentials only through the error text.
func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

func (s *sshSession) LiftDeadline() error {
	return s.conn.SetDeadline(time.Time{})
}

func (s *sshSession) OpenCommand() (CommandChannel, error) {
	if s.client == nil {
		return nil, errors.New("session not authenticated")
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return &sshCommand{session: sess, stdout: stdout, stderr: stderr}, nil
}

func (s *sshSession) OpenUpload(remotePath string, mode fs.FileMode, size int64) (UploadStream, error) {
	if s.client == nil {
		return nil, errors.New("session not authenticated")
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	stream, err := startSCP(sess, remotePath, mode, size)
	if err != nil {
		sess.Close()
		return nil, err
	}
	return stream, nil
}

func (s *sshSession) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return s.conn.Close()
}

type sshCommand struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
}

func (c *sshCommand) Setenv(name, value string) error { return c.session.Setenv(name, value) }
func (c *sshCommand) Start(command string) error      { return c.session.Start(command) }
func (c *sshCommand) Stdout() io.Reader               { return c.stdout }
func (c *sshCommand) Stderr() io.Reader               { return c.stderr }

func (c *sshCommand) Wait() (int, error) {
	err := c.session.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return 0, err
}

func (c *sshCommand) Close() error {
	err := c.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
