// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

const sshStartTimeout = 30 * time.Second

// SSHTerminal attaches a tmux client on a remote host. The interactive
// channel is a single `ssh -tt` under a local pty; command-channel calls
// (list-clients, switch-client, kill-session) each go through a separate
// ssh invocation via the shared SSHRunner, with ControlMaster disabled so a
// wedged multiplex socket cannot stall them.
type SSHTerminal struct {
	lc         *lifecycle
	runner     *tmux.SSHRunner
	adapter    *tmux.Adapter
	helperName string
	switcher   switchSlot

	procMu sync.Mutex
	cmd    *exec.Cmd
	ptmx   *os.File
	tty    string

	readerDone chan struct{}
}

// NewSSHTerminal creates a remote proxy. The adapter must be backed by
// runner so tty discovery and switches land on the same host.
func NewSSHTerminal(runner *tmux.SSHRunner, adapter *tmux.Adapter) *SSHTerminal {
	return &SSHTerminal{
		lc:         newLifecycle(),
		runner:     runner,
		adapter:    adapter,
		helperName: newHelperName(),
		readerDone: make(chan struct{}),
	}
}

// HelperName returns the remote helper session's name.
func (s *SSHTerminal) HelperName() string { return s.helperName }

func (s *SSHTerminal) State() State { return s.lc.State() }

func (s *SSHTerminal) Output() <-chan []byte { return s.lc.output }

func (s *SSHTerminal) Start(ctx context.Context) error {
	leader, wait, attempt := s.lc.beginStart()
	if !leader {
		select {
		case <-wait:
			return s.lc.waitErr()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.lc.setState(StateAttaching)

	result := make(chan error, 1)
	go func() { result <- s.doStart(ctx, attempt) }()

	select {
	case err := <-result:
		if !s.lc.finishStart(attempt, err) {
			return errStartTimeout()
		}
		if err != nil {
			s.lc.setState(StateDead)
		}
		return err
	case <-time.After(sshStartTimeout):
		s.lc.invalidate()
		s.lc.setState(StateDead)
		s.killProcess()
		return errStartTimeout()
	}
}

func (s *SSHTerminal) doStart(ctx context.Context, attempt uint64) error {
	// -A attaches if the helper already exists, so a leftover session from a
	// dropped connection is not fatal
	remoteCmd := "tmux new-session -A -s " + tmux.ShellQuote(s.helperName)
	if err := s.spawn(remoteCmd); err != nil {
		return errAttach(err)
	}

	tty, err := s.discoverTTY(ctx)
	if err != nil {
		// A racing half-dead client can make new-session report a duplicate
		// and exit. If the session exists remotely, a plain attach recovers.
		if exists := s.adapter.HasSession(ctx, s.helperName); exists {
			s.killProcess()
			if serr := s.spawn("tmux attach -t " + tmux.ShellQuote(s.helperName)); serr != nil {
				return errAttach(serr)
			}
			tty, err = s.discoverTTY(ctx)
		}
		if err != nil {
			s.killProcess()
			return err
		}
	}
	if !s.lc.attemptCurrent(attempt) {
		s.killProcess()
		return errStartTimeout()
	}

	s.procMu.Lock()
	s.tty = tty
	s.procMu.Unlock()
	return nil
}

// spawn launches the interactive ssh channel under a local pty.
func (s *SSHTerminal) spawn(remoteCmd string) error {
	args := append([]string{"-tt"}, s.runner.SSHArgs(remoteCmd)...)
	cmd := exec.Command("ssh", args...)
	cmd.Env = append(filteredEnv(), "TERM=xterm-256color")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start ssh channel: %w", err)
	}

	done := make(chan struct{})
	s.procMu.Lock()
	s.cmd = cmd
	s.ptmx = ptmx
	s.readerDone = done
	s.procMu.Unlock()

	if cols, rows := s.lc.dims(); cols > 0 && rows > 0 {
		pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	}

	go s.readLoop(ptmx, done)
	return nil
}

// discoverTTY polls the remote list-clients until our helper session has an
// attached client. Remote pids are meaningless locally, so the session name
// is the correlation key.
func (s *SSHTerminal) discoverTTY(ctx context.Context) (string, error) {
	deadline := time.Now().Add(sshStartTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		clients, err := s.adapter.ListClients(ctx, s.helperName)
		if err == nil && len(clients) > 0 {
			return clients[0].TTY, nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return "", errTTYTimeout()
}

func (s *SSHTerminal) readLoop(ptmx *os.File, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			s.lc.emit(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *SSHTerminal) SwitchTo(ctx context.Context, target string) (bool, error) {
	if st := s.lc.State(); st != StateReady && st != StateSwitching {
		return false, errNotReady(st)
	}
	return s.switcher.request(ctx, target, s.doSwitch)
}

func (s *SSHTerminal) doSwitch(ctx context.Context, target string) error {
	s.lc.setState(StateSwitching)
	s.lc.suppressed.Store(true)
	defer func() {
		s.lc.suppressed.Store(false)
		if s.lc.State() == StateSwitching {
			s.lc.setState(StateReady)
		}
	}()

	s.procMu.Lock()
	tty := s.tty
	s.procMu.Unlock()

	if err := s.adapter.SwitchClient(ctx, tty, target); err != nil {
		return errSwitch(err)
	}
	if err := s.adapter.RefreshClient(ctx, tty); err != nil {
		log.Printf("proxy: remote refresh after switch: %v", err)
	}
	return nil
}

func (s *SSHTerminal) Write(data []byte) error {
	if s.lc.State() != StateReady {
		return nil
	}
	s.procMu.Lock()
	ptmx := s.ptmx
	s.procMu.Unlock()
	if ptmx == nil {
		return nil
	}
	_, err := ptmx.Write(data)
	return err
}

func (s *SSHTerminal) Resize(ctx context.Context, cols, rows int) error {
	s.lc.setDims(cols, rows)

	s.procMu.Lock()
	ptmx := s.ptmx
	s.procMu.Unlock()
	if ptmx == nil {
		return nil
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("resize ssh pty: %w", err)
	}
	return nil
}

func (s *SSHTerminal) Dispose(ctx context.Context) error {
	if s.lc.State() == StateDead {
		return nil
	}
	s.lc.invalidate()
	s.lc.setState(StateDead)
	s.lc.signalDone()

	s.killProcess()

	select {
	case <-s.currentReaderDone():
	case <-time.After(time.Second):
	}
	s.lc.closeOutput()

	if err := s.adapter.KillSession(ctx, s.helperName); err != nil {
		log.Printf("proxy: kill remote helper %s: %v", s.helperName, err)
	}
	return nil
}

func (s *SSHTerminal) currentReaderDone() chan struct{} {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.readerDone
}

func (s *SSHTerminal) killProcess() {
	s.procMu.Lock()
	cmd, ptmx := s.cmd, s.ptmx
	s.cmd, s.ptmx = nil, nil
	s.procMu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	if ptmx != nil {
		ptmx.Close()
	}
}
