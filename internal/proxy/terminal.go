// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package proxy bridges browser terminals to tmux. Each proxy owns one
// helper tmux client whose visible window follows the browser's selection.
package proxy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// State is the proxy lifecycle state.
type State int32

const (
	StateInitial State = iota
	StateAttaching
	StateReady
	StateSwitching
	StateDead
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateAttaching:
		return "ATTACHING"
	case StateReady:
		return "READY"
	case StateSwitching:
		return "SWITCHING"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Terminal is one browser-facing tmux attachment.
type Terminal interface {
	// Start attaches the helper client. Idempotent; concurrent callers share
	// one result.
	Start(ctx context.Context) error

	// SwitchTo points the helper client at target. Concurrent calls coalesce
	// to the newest target; every caller receives the final outcome.
	SwitchTo(ctx context.Context, target string) (bool, error)

	// Write sends raw input bytes. Dropped silently unless READY.
	Write(data []byte) error

	// Resize applies new dimensions and caches them for reconnects.
	Resize(ctx context.Context, cols, rows int) error

	// Output streams terminal bytes. Closed when the proxy dies.
	Output() <-chan []byte

	// State reports the current lifecycle state.
	State() State

	// Dispose invalidates any in-flight start, kills the helper session, and
	// enters DEAD. Safe to call more than once.
	Dispose(ctx context.Context) error
}

// Error codes surfaced by proxies.
const (
	CodeSessionCreateFailed = "ERR_SESSION_CREATE_FAILED"
	CodeTmuxAttachFailed    = "ERR_TMUX_ATTACH_FAILED"
	CodeTTYDiscoveryTimeout = "ERR_TTY_DISCOVERY_TIMEOUT"
	CodeTmuxSwitchFailed    = "ERR_TMUX_SWITCH_FAILED"
	CodeStartTimeout        = "ERR_START_TIMEOUT"
	CodeNotReady            = "ERR_NOT_READY"
	CodeRemoteTimeout       = "ERR_REMOTE_TIMEOUT"
)

// Error is a proxy failure with a wire-visible code. Retryable errors show
// the client a transient banner; non-retryable ones end the attachment.
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code string, retryable bool, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: code, Message: msg, Retryable: retryable, Err: err}
}

func errSessionCreate(err error) *Error { return newError(CodeSessionCreateFailed, false, err) }
func errAttach(err error) *Error        { return newError(CodeTmuxAttachFailed, false, err) }
func errSwitch(err error) *Error        { return newError(CodeTmuxSwitchFailed, true, err) }

func errTTYTimeout() *Error {
	return &Error{Code: CodeTTYDiscoveryTimeout, Message: "no client tty appeared in time", Retryable: true}
}

func errStartTimeout() *Error {
	return &Error{Code: CodeStartTimeout, Message: "start did not complete in time", Retryable: true}
}

func errNotReady(state State) *Error {
	return &Error{
		Code:      CodeNotReady,
		Message:   fmt.Sprintf("proxy is %s", state),
		Retryable: state != StateDead,
	}
}

// HelperSessionPrefix names the throwaway grouped sessions proxies create.
// Startup pruning matches on it.
const HelperSessionPrefix = "agentboard-ws-"

// newHelperName generates a unique helper session name.
func newHelperName() string {
	return HelperSessionPrefix + uuid.NewString()[:8]
}
