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
	ps "github.com/mitchellh/go-ps"

	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

const (
	ptyStartTimeout = 2 * time.Second
	ttyPollInterval = 50 * time.Millisecond
)

// PTYTerminal attaches a real tmux client under a pseudo-terminal. The
// helper session is grouped with the base session so it shares windows but
// keeps its own current-window pointer.
type PTYTerminal struct {
	lc          *lifecycle
	adapter     *tmux.Adapter
	baseSession string
	helperName  string
	switcher    switchSlot

	procMu sync.Mutex
	cmd    *exec.Cmd
	ptmx   *os.File
	tty    string

	readerDone chan struct{}
}

// NewPTYTerminal creates a PTY-backed proxy against baseSession.
func NewPTYTerminal(adapter *tmux.Adapter, baseSession string) *PTYTerminal {
	return &PTYTerminal{
		lc:          newLifecycle(),
		adapter:     adapter,
		baseSession: baseSession,
		helperName:  newHelperName(),
		readerDone:  make(chan struct{}),
	}
}

// HelperName returns the grouped helper session's name.
func (p *PTYTerminal) HelperName() string { return p.helperName }

func (p *PTYTerminal) State() State { return p.lc.State() }

func (p *PTYTerminal) Output() <-chan []byte { return p.lc.output }

func (p *PTYTerminal) Start(ctx context.Context) error {
	leader, wait, attempt := p.lc.beginStart()
	if !leader {
		select {
		case <-wait:
			return p.lc.waitErr()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.lc.setState(StateAttaching)

	result := make(chan error, 1)
	go func() { result <- p.doStart(ctx, attempt) }()

	select {
	case err := <-result:
		if !p.lc.finishStart(attempt, err) {
			// Invalidated while we were starting; treat as dead
			return errStartTimeout()
		}
		if err != nil {
			p.lc.setState(StateDead)
		}
		return err
	case <-time.After(ptyStartTimeout):
		// The attempt is dead even if doStart succeeds a moment later
		p.lc.invalidate()
		p.lc.setState(StateDead)
		p.killProcess()
		return errStartTimeout()
	}
}

func (p *PTYTerminal) doStart(ctx context.Context, attempt uint64) error {
	// Grouped session: shares the base session's windows, owns its own view
	if _, err := p.adapter.Runner().Run(ctx, "new-session", "-d", "-t", p.baseSession, "-s", p.helperName); err != nil {
		return errSessionCreate(err)
	}

	cmd := exec.Command("tmux", "attach", "-t", p.helperName)
	cmd.Env = append(filteredEnv(), "TERM=xterm-256color")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		p.adapter.KillSession(ctx, p.helperName)
		return errAttach(err)
	}

	p.procMu.Lock()
	p.cmd = cmd
	p.ptmx = ptmx
	p.procMu.Unlock()

	if cols, rows := p.lc.dims(); cols > 0 && rows > 0 {
		pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	}

	go p.readLoop(ptmx)

	tty, err := p.discoverTTY(ctx, cmd.Process.Pid)
	if err != nil {
		p.killProcess()
		return err
	}
	if !p.lc.attemptCurrent(attempt) {
		p.killProcess()
		return errStartTimeout()
	}

	p.procMu.Lock()
	p.tty = tty
	p.procMu.Unlock()
	return nil
}

// discoverTTY polls list-clients until the attach child's client appears.
func (p *PTYTerminal) discoverTTY(ctx context.Context, pid int) (string, error) {
	deadline := time.Now().Add(ptyStartTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		clients, err := p.adapter.ListClients(ctx, p.helperName)
		if err == nil {
			for _, c := range clients {
				if c.PID == pid || isDescendantOf(c.PID, pid) {
					return c.TTY, nil
				}
			}
		}
		time.Sleep(ttyPollInterval)
	}
	return "", errTTYTimeout()
}

// isDescendantOf walks the process table upward from pid. tmux clients are
// not always our direct child: some shells re-exec the attach command.
func isDescendantOf(pid, ancestor int) bool {
	for depth := 0; depth < 10; depth++ {
		if pid == ancestor {
			return true
		}
		proc, err := ps.FindProcess(pid)
		if err != nil || proc == nil {
			return false
		}
		pid = proc.PPid()
		if pid <= 1 {
			return false
		}
	}
	return false
}

func (p *PTYTerminal) readLoop(ptmx *os.File) {
	defer close(p.readerDone)
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			p.lc.emit(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (p *PTYTerminal) SwitchTo(ctx context.Context, target string) (bool, error) {
	if s := p.lc.State(); s != StateReady && s != StateSwitching {
		return false, errNotReady(s)
	}
	return p.switcher.request(ctx, target, p.doSwitch)
}

func (p *PTYTerminal) doSwitch(ctx context.Context, target string) error {
	p.lc.setState(StateSwitching)
	p.lc.suppressed.Store(true)
	defer func() {
		p.lc.suppressed.Store(false)
		if p.lc.State() == StateSwitching {
			p.lc.setState(StateReady)
		}
	}()

	p.procMu.Lock()
	tty := p.tty
	p.procMu.Unlock()

	if err := p.adapter.SwitchClient(ctx, tty, target); err != nil {
		return errSwitch(err)
	}
	// Redraw arrives after suppression lifts, replacing the torn frame
	if err := p.adapter.RefreshClient(ctx, tty); err != nil {
		log.Printf("proxy: refresh after switch: %v", err)
	}
	return nil
}

func (p *PTYTerminal) Write(data []byte) error {
	if p.lc.State() != StateReady {
		return nil
	}
	p.procMu.Lock()
	ptmx := p.ptmx
	p.procMu.Unlock()
	if ptmx == nil {
		return nil
	}
	_, err := ptmx.Write(data)
	return err
}

func (p *PTYTerminal) Resize(ctx context.Context, cols, rows int) error {
	p.lc.setDims(cols, rows)

	p.procMu.Lock()
	ptmx := p.ptmx
	p.procMu.Unlock()
	if ptmx == nil {
		return nil
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

func (p *PTYTerminal) Dispose(ctx context.Context) error {
	if p.lc.State() == StateDead {
		return nil
	}
	p.lc.invalidate()
	p.lc.setState(StateDead)
	p.lc.signalDone()

	p.killProcess()

	// Wait for the reader so closeOutput races nothing
	select {
	case <-p.readerDone:
	case <-time.After(time.Second):
	}
	p.lc.closeOutput()

	if err := p.adapter.KillSession(ctx, p.helperName); err != nil {
		log.Printf("proxy: kill helper %s: %v", p.helperName, err)
	}
	return nil
}

func (p *PTYTerminal) killProcess() {
	p.procMu.Lock()
	cmd, ptmx := p.cmd, p.ptmx
	p.cmd, p.ptmx = nil, nil
	p.procMu.Unlock()

	if ptmx != nil {
		ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}

// filteredEnv is the process env without TMUX, so nested attaches work.
func filteredEnv() []string {
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, e := range env {
		if len(e) < 5 || e[:5] != "TMUX=" {
			out = append(out, e)
		}
	}
	return out
}
