// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// RemoteConfig configures ssh-routed tmux execution for one host.
type RemoteConfig struct {
	Host         string
	SSHOpts      []string      // extra ssh options, split from AGENTBOARD_REMOTE_SSH_OPTS
	Timeout      time.Duration // per-call bound; default 10s
	StaleAfter   time.Duration // probe freshness window; default 15s
	AllowControl bool          // keep ControlMaster as the user configured it
}

// SSHRunner executes tmux on a remote host, one ssh subprocess per call.
//
// ControlMaster is forced off for these command-channel calls: the
// long-running attach owns any multiplexed channel, and a stale control
// socket would hang every side call behind it.
type SSHRunner struct {
	cfg RemoteConfig

	mu       sync.Mutex
	lastOK   time.Time
	lastFail error
}

// NewSSHRunner creates a runner that routes tmux through ssh.
func NewSSHRunner(cfg RemoteConfig) *SSHRunner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Second
	}
	return &SSHRunner{cfg: cfg}
}

func (r *SSHRunner) Host() string { return r.cfg.Host }

func (r *SSHRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, "", args)
}

func (r *SSHRunner) RunStdin(ctx context.Context, stdin string, args ...string) (string, error) {
	return r.run(ctx, stdin, args)
}

// SSHArgs builds the ssh argument vector for an arbitrary remote command.
// Exported so proxies can reuse the exact option set for their own channels.
func (r *SSHRunner) SSHArgs(remoteCmd string) []string {
	sshArgs := make([]string, 0, len(r.cfg.SSHOpts)+6)
	sshArgs = append(sshArgs, r.cfg.SSHOpts...)
	if !r.cfg.AllowControl {
		sshArgs = append(sshArgs, "-o", "ControlMaster=no", "-o", "ControlPath=none")
	}
	sshArgs = append(sshArgs, r.cfg.Host, "--", remoteCmd)
	return sshArgs
}

func (r *SSHRunner) run(ctx context.Context, stdin string, args []string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	remoteCmd := "tmux " + QuoteAll(args)
	cmd := exec.CommandContext(callCtx, "ssh", r.SSHArgs(remoteCmd)...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		wrapped := err
		// CommandContext kills the subprocess on deadline before we get here
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			wrapped = ErrRemoteTimeout
		}
		execErr := &ExecError{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   truncateStderr(stderr.String()),
			Err:      wrapped,
		}
		r.recordFailure(execErr)
		return "", execErr
	}
	r.recordSuccess()
	return stdout.String(), nil
}

// Probe runs a lightweight list-sessions to refresh reachability state.
func (r *SSHRunner) Probe(ctx context.Context) error {
	_, err := r.Run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// "no server running" still proves the host is reachable
		var ee *ExecError
		if errors.As(err, &ee) && strings.Contains(ee.Stderr, "no server running") {
			r.recordSuccess()
			return nil
		}
		return err
	}
	return nil
}

// Reachable reports whether a probe succeeded within the freshness window.
func (r *SSHRunner) Reachable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lastOK.IsZero() && time.Since(r.lastOK) < r.cfg.StaleAfter
}

// LastError returns the most recent call failure, if any.
func (r *SSHRunner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFail
}

func (r *SSHRunner) recordSuccess() {
	r.mu.Lock()
	r.lastOK = time.Now()
	r.lastFail = nil
	r.mu.Unlock()
}

func (r *SSHRunner) recordFailure(err error) {
	r.mu.Lock()
	r.lastFail = err
	r.mu.Unlock()
}
