package models

import (
	"errors"
	"io/fs"
	"net"
	"strconv"
	"time"
)

// HostSpec is a resolved connection target. Index is its position in the
// caller's host list and is the only link back to input order.
type HostSpec struct {
	Index          int           `json:"index"`
	Host           string        `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port           int           `json:"port" validate:"min=1,max=65535"`
	Username       string        `json:"username" validate:"required"`
	Password       string        `json:"-"`
	ConnectTimeout time.Duration `json:"connectTimeout" validate:"gt=0"`
}

func (h HostSpec) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

type OpKind int

const (
	OpRunCommand OpKind = iota
	OpSendFile
)

func (k OpKind) String() string {
	switch k {
	case OpRunCommand:
		return "run-command"
	case OpSendFile:
		return "send-file"
	}
	return "unknown"
}

// Operation is the unit of work applied identically to every host.
type Operation struct {
	Kind       OpKind
	Command    string
	LocalPath  string
	RemotePath string
}

func NewRunCommand(command string) Operation {
	return Operation{Kind: OpRunCommand, Command: command}
}

func NewSendFile(localPath, remotePath string) Operation {
	return Operation{Kind: OpSendFile, LocalPath: localPath, RemotePath: remotePath}
}

func (o Operation) Validate() error {
	switch o.Kind {
	case OpRunCommand:
		if o.Command == "" {
			return errors.New("command must not be empty")
		}
	case OpSendFile:
		if o.LocalPath == "" || o.RemotePath == "" {
			return errors.New("both local and remote paths are required")
		}
	default:
		return errors.New("unknown operation kind")
	}
	return nil
}

type OutcomeKind int

const (
	CommandResult OutcomeKind = iota
	TransferComplete
)

// Outcome is the successful result of an Operation on one host.
type Outcome struct {
	Kind OutcomeKind

	// CommandResult
	ExitStatus      int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool

	// TransferComplete
	Bytes int64
	Mode  fs.FileMode
}

// Success reports whether the outcome counts as a clean run: a finished
// transfer or a command that exited 0.
func (o Outcome) Success() bool {
	return o.Kind == TransferComplete || o.ExitStatus == 0
}

// CompletionEvent is the index-tagged result of one host's execution.
// Exactly one of Outcome or Err is meaningful: Err != nil means failure.
type CompletionEvent struct {
	Index   int
	Host    HostSpec
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// Failure returns the typed host error carried by the event, if any.
func (e CompletionEvent) Failure() (*HostError, bool) {
	var he *HostError
	if errors.As(e.Err, &he) {
		return he, true
	}
	return nil, false
}
