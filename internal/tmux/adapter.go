// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// windowFormat emits the fields parseWindows expects, unit-separated.
const windowFormat = "#{session_name}\x1f#{window_index}\x1f#{window_name}\x1f#{window_activity}\x1f#{session_created}"

// clientFormat emits the fields parseClients expects.
const clientFormat = "#{client_tty}\x1f#{client_pid}"

// Adapter exposes typed tmux queries and commands over a Runner. One adapter
// serves one host; the registry owns one per configured remote plus the local
// one.
type Adapter struct {
	runner Runner
}

// NewAdapter creates an adapter over the given runner.
func NewAdapter(runner Runner) *Adapter {
	return &Adapter{runner: runner}
}

// Runner returns the underlying runner.
func (a *Adapter) Runner() Runner { return a.runner }

// Host returns the remote host name, or "" for local.
func (a *Adapter) Host() string { return a.runner.Host() }

// HasSession checks whether a session exists.
func (a *Adapter) HasSession(ctx context.Context, session string) bool {
	_, err := a.runner.Run(ctx, "has-session", "-t", "="+session)
	return err == nil
}

// ListSessions lists session names. A missing server is not an error.
func (a *Adapter) ListSessions(ctx context.Context) ([]string, error) {
	out, err := a.runner.Run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isNoServer(err) {
			return nil, nil
		}
		return nil, err
	}
	var sessions []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sessions = append(sessions, line)
		}
	}
	return sessions, nil
}

// NewSession creates a detached session.
func (a *Adapter) NewSession(ctx context.Context, session, workdir string) error {
	args := []string{"new-session", "-d", "-s", session}
	if workdir != "" {
		args = append(args, "-c", workdir)
	}
	_, err := a.runner.Run(ctx, args...)
	return err
}

// KillSession kills a session.
func (a *Adapter) KillSession(ctx context.Context, session string) error {
	_, err := a.runner.Run(ctx, "kill-session", "-t", "="+session)
	return err
}

// ListWindows lists the windows of one session.
func (a *Adapter) ListWindows(ctx context.Context, session string) ([]Window, error) {
	out, err := a.runner.Run(ctx, "list-windows", "-t", "="+session, "-F", windowFormat)
	if err != nil {
		return nil, err
	}
	return parseWindows(out, a.Host()), nil
}

// ListAllWindows lists windows across every session on the server.
func (a *Adapter) ListAllWindows(ctx context.Context) ([]Window, error) {
	out, err := a.runner.Run(ctx, "list-windows", "-a", "-F", windowFormat)
	if err != nil {
		if isNoServer(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseWindows(out, a.Host()), nil
}

// CapturePane captures the last `lines` lines of scrollback with escape
// sequences preserved.
func (a *Adapter) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	args := []string{"capture-pane", "-t", target, "-e", "-p"}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	} else {
		args = append(args, "-S", "-")
	}
	return a.runner.Run(ctx, args...)
}

// DisplayMessage evaluates a format string against a target atomically.
func (a *Adapter) DisplayMessage(ctx context.Context, target, format string) (string, error) {
	out, err := a.runner.Run(ctx, "display-message", "-t", target, "-p", format)
	return strings.TrimRight(out, "\n"), err
}

// NewWindow creates a window running command in workdir and returns its
// target (session:index).
func (a *Adapter) NewWindow(ctx context.Context, session, workdir, name, command string) (string, error) {
	args := []string{"new-window", "-t", "=" + session, "-P", "-F", "#{session_name}:#{window_index}"}
	if name != "" {
		args = append(args, "-n", name)
	}
	if workdir != "" {
		args = append(args, "-c", workdir)
	}
	if command != "" {
		args = append(args, command)
	}
	out, err := a.runner.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// KillWindow kills a window by target.
func (a *Adapter) KillWindow(ctx context.Context, target string) error {
	_, err := a.runner.Run(ctx, "kill-window", "-t", target)
	return err
}

// RenameWindow renames a window.
func (a *Adapter) RenameWindow(ctx context.Context, target, name string) error {
	_, err := a.runner.Run(ctx, "rename-window", "-t", target, name)
	return err
}

// ResizeWindow resizes a window to cols x rows.
func (a *Adapter) ResizeWindow(ctx context.Context, target string, cols, rows int) error {
	_, err := a.runner.Run(ctx, "resize-window", "-t", target,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	return err
}

// SwitchClient points the client on tty at target.
func (a *Adapter) SwitchClient(ctx context.Context, tty, target string) error {
	_, err := a.runner.Run(ctx, "switch-client", "-c", tty, "-t", target)
	return err
}

// RefreshClient forces a redraw of the client on tty.
func (a *Adapter) RefreshClient(ctx context.Context, tty string) error {
	_, err := a.runner.Run(ctx, "refresh-client", "-t", tty)
	return err
}

// ListClients lists the clients attached to a session.
func (a *Adapter) ListClients(ctx context.Context, session string) ([]Client, error) {
	out, err := a.runner.Run(ctx, "list-clients", "-t", "="+session, "-F", clientFormat)
	if err != nil {
		return nil, err
	}
	return parseClients(out), nil
}

// SendKeys sends keys to a target. With literal, bytes pass through verbatim.
func (a *Adapter) SendKeys(ctx context.Context, target, keys string, literal bool) error {
	args := []string{"send-keys", "-t", target}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, keys)
	_, err := a.runner.Run(ctx, args...)
	return err
}

// SendText pastes text via load-buffer/paste-buffer, which survives
// characters send-keys would reinterpret.
func (a *Adapter) SendText(ctx context.Context, target, text string) error {
	if _, err := a.runner.RunStdin(ctx, text, "load-buffer", "-"); err != nil {
		return err
	}
	_, err := a.runner.Run(ctx, "paste-buffer", "-d", "-t", target)
	return err
}

// PipePane starts (or with empty command, stops) pipe-pane on a target.
func (a *Adapter) PipePane(ctx context.Context, target, command string) error {
	if command == "" {
		_, err := a.runner.Run(ctx, "pipe-pane", "-t", target)
		return err
	}
	_, err := a.runner.Run(ctx, "pipe-pane", "-t", target, "-o", command)
	return err
}

// SetOption sets a session option.
func (a *Adapter) SetOption(ctx context.Context, session, name, value string) error {
	_, err := a.runner.Run(ctx, "set-option", "-t", "="+session, name, value)
	return err
}

// PaneInMode reports whether the target pane is in copy mode.
func (a *Adapter) PaneInMode(ctx context.Context, target string) (bool, error) {
	out, err := a.DisplayMessage(ctx, target, "#{pane_in_mode}")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "1", nil
}

// CancelCopyMode leaves copy mode on the target pane.
func (a *Adapter) CancelCopyMode(ctx context.Context, target string) error {
	_, err := a.runner.Run(ctx, "send-keys", "-t", target, "-X", "cancel")
	return err
}

// WindowSize reports the current size of a window.
func (a *Adapter) WindowSize(ctx context.Context, target string) (cols, rows int, err error) {
	out, err := a.DisplayMessage(ctx, target, "#{window_width} #{window_height}")
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected window size output %q", out)
	}
	cols, _ = strconv.Atoi(parts[0])
	rows, _ = strconv.Atoi(parts[1])
	return cols, rows, nil
}

// parseWindows parses list-windows output in windowFormat.
func parseWindows(out, host string) []Window {
	var windows []Window
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, fieldSep)
		if len(fields) < 5 {
			continue
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		w := Window{
			SessionName: fields[0],
			Index:       idx,
			Name:        fields[2],
			Target:      fields[0] + ":" + fields[1],
			Host:        host,
		}
		if ts, err := strconv.ParseInt(fields[3], 10, 64); err == nil && ts > 0 {
			w.LastActivityAt = time.Unix(ts, 0)
		}
		if ts, err := strconv.ParseInt(fields[4], 10, 64); err == nil && ts > 0 {
			w.CreatedAt = time.Unix(ts, 0)
		}
		windows = append(windows, w)
	}
	return windows
}

// parseClients parses list-clients output in clientFormat.
func parseClients(out string) []Client {
	var clients []Client
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, fieldSep)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		clients = append(clients, Client{TTY: fields[0], PID: pid})
	}
	return clients
}

func isNoServer(err error) bool {
	var ee *ExecError
	if errors.As(err, &ee) {
		return strings.Contains(ee.Stderr, "no server running") ||
			strings.Contains(ee.Stderr, "error connecting to")
	}
	return false
}
