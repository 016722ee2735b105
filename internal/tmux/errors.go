// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRemoteTimeout is wrapped by ExecError when an ssh-routed call exceeds
// its per-call timeout. The ssh subprocess is killed before this surfaces.
var ErrRemoteTimeout = errors.New("ERR_REMOTE_TIMEOUT")

// maxStderr bounds how much stderr an ExecError carries.
const maxStderr = 500

// ExecError is the single error type surfaced for failed tmux invocations.
type ExecError struct {
	Args     []string // the tmux argument vector, not including "tmux"
	ExitCode int
	Stderr   string // truncated to maxStderr bytes
	Err      error  // underlying error (exec failure, context deadline)
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("tmux %s: exit %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func truncateStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return s[:maxStderr]
	}
	return s
}
