package models

import (
	"errors"
	"fmt"
)

// Stage is the phase of a host's execution that failed.
type Stage int

const (
	StageUnknown Stage = iota
	StageConnect
	StageAuth
	StageProtocol
	StageLocalIO
)

var (
	ErrConnect  = errors.New("connect error")
	ErrAuth     = errors.New("auth error")
	ErrProtocol = errors.New("protocol error")
	ErrLocalIO  = errors.New("local io error")
)

func (s Stage) String() string {
	switch s {
	case StageConnect:
		return "connect"
	case StageAuth:
		return "auth"
	case StageProtocol:
		return "protocol"
	case StageLocalIO:
		return "local-io"
	}
	return "unknown"
}

func (s Stage) sentinel() error {
	switch s {
	case StageConnect:
		return ErrConnect
	case StageAuth:
		return ErrAuth
	case StageProtocol:
		return ErrProtocol
	case StageLocalIO:
		return ErrLocalIO
	}
	return nil
}

// HostError is the only error type that crosses the per-host boundary.
type HostError struct {
	Stage Stage
	Op    string
	Err   error
}

func NewHostError(stage Stage, op string, err error) *HostError {
	return &HostError{Stage: stage, Op: op, Err: err}
}

func (e *HostError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// Is matches the stage sentinels, so errors.Is(err, ErrAuth) works on any
// wrapped HostError.
func (e *HostError) Is(target error) bool {
	s := e.Stage.sentinel()
	return s != nil && s == target
}

// StageOf returns the failure stage of err, or StageUnknown when err does
// not carry a HostError.
func StageOf(err error) Stage {
	var he *HostError
	if errors.As(err, &he) {
		return he.Stage
	}
	return StageUnknown
}
