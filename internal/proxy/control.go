// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

const controlStartTimeout = 2 * time.Second

// ControlTerminal attaches in tmux control mode (-C). Used when the server
// has no controlling tty: output arrives as %output protocol lines on the
// child's stdout and input goes out as send-keys commands on its stdin.
type ControlTerminal struct {
	lc          *lifecycle
	adapter     *tmux.Adapter
	baseSession string
	helperName  string
	switcher    switchSlot

	procMu sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	target string

	// Original window size, restored on dispose. The control client reports
	// no size of its own, so resizes mutate the shared window directly.
	origCols, origRows int
	origTarget         string

	readerDone chan struct{}
}

// NewControlTerminal creates a control-mode proxy against baseSession.
func NewControlTerminal(adapter *tmux.Adapter, baseSession string) *ControlTerminal {
	return &ControlTerminal{
		lc:          newLifecycle(),
		adapter:     adapter,
		baseSession: baseSession,
		helperName:  newHelperName(),
		readerDone:  make(chan struct{}),
	}
}

// HelperName returns the grouped helper session's name.
func (c *ControlTerminal) HelperName() string { return c.helperName }

func (c *ControlTerminal) State() State { return c.lc.State() }

func (c *ControlTerminal) Output() <-chan []byte { return c.lc.output }

func (c *ControlTerminal) Start(ctx context.Context) error {
	leader, wait, attempt := c.lc.beginStart()
	if !leader {
		select {
		case <-wait:
			return c.lc.waitErr()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.lc.setState(StateAttaching)

	result := make(chan error, 1)
	go func() { result <- c.doStart(ctx, attempt) }()

	select {
	case err := <-result:
		if !c.lc.finishStart(attempt, err) {
			return errStartTimeout()
		}
		if err != nil {
			c.lc.setState(StateDead)
		}
		return err
	case <-time.After(controlStartTimeout):
		c.lc.invalidate()
		c.lc.setState(StateDead)
		c.killProcess()
		return errStartTimeout()
	}
}

func (c *ControlTerminal) doStart(ctx context.Context, attempt uint64) error {
	if _, err := c.adapter.Runner().Run(ctx, "new-session", "-d", "-t", c.baseSession, "-s", c.helperName); err != nil {
		return errSessionCreate(err)
	}

	cmd := exec.Command("tmux", "-C", "attach", "-t", c.helperName)
	cmd.Env = filteredEnv()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.adapter.KillSession(ctx, c.helperName)
		return errAttach(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.adapter.KillSession(ctx, c.helperName)
		return errAttach(err)
	}
	if err := cmd.Start(); err != nil {
		c.adapter.KillSession(ctx, c.helperName)
		return errAttach(err)
	}

	c.procMu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.procMu.Unlock()

	// Bracket the original size of the window the helper starts on
	if target, err := c.adapter.DisplayMessage(ctx, c.helperName, "#{session_name}:#{window_index}"); err == nil {
		if cols, rows, err := c.adapter.WindowSize(ctx, target); err == nil {
			c.procMu.Lock()
			c.origTarget, c.origCols, c.origRows = target, cols, rows
			c.procMu.Unlock()
		}
	}

	go c.readLoop(stdout)

	if !c.lc.attemptCurrent(attempt) {
		c.killProcess()
		return errStartTimeout()
	}
	return nil
}

// readLoop parses the control protocol. Only %output lines carry terminal
// bytes; %begin/%end/%error bracket command replies.
func (c *ControlTerminal) readLoop(stdout io.Reader) {
	defer close(c.readerDone)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "%output ") {
			continue
		}
		rest := strings.TrimPrefix(line, "%output ")
		// "%<pane-id> <escaped bytes>"
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			c.lc.emit(unescapeControl(rest[i+1:]))
		}
	}
}

// unescapeControl decodes tmux control-mode octal escapes (\ooo) and
// doubled backslashes.
func unescapeControl(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\\' {
			out = append(out, '\\')
			i++
			continue
		}
		if i+4 <= len(s) && isOctal(s[i+1:i+4]) {
			v, _ := strconv.ParseUint(s[i+1:i+4], 8, 8)
			out = append(out, byte(v))
			i += 3
			continue
		}
		out = append(out, s[i])
	}
	return out
}

func isOctal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '7' {
			return false
		}
	}
	return len(s) == 3
}

// command writes one tmux command line to the control client.
func (c *ControlTerminal) command(line string) error {
	c.procMu.Lock()
	stdin := c.stdin
	c.procMu.Unlock()
	if stdin == nil {
		return fmt.Errorf("control client gone")
	}
	_, err := io.WriteString(stdin, line+"\n")
	return err
}

func (c *ControlTerminal) SwitchTo(ctx context.Context, target string) (bool, error) {
	if s := c.lc.State(); s != StateReady && s != StateSwitching {
		return false, errNotReady(s)
	}
	return c.switcher.request(ctx, target, c.doSwitch)
}

func (c *ControlTerminal) doSwitch(ctx context.Context, target string) error {
	c.lc.setState(StateSwitching)
	c.lc.suppressed.Store(true)
	defer func() {
		c.lc.suppressed.Store(false)
		if c.lc.State() == StateSwitching {
			c.lc.setState(StateReady)
		}
	}()

	// Commands on control stdin run as this client, so no -c tty is needed
	if err := c.command("switch-client -t " + tmux.ShellQuote(target)); err != nil {
		return errSwitch(err)
	}
	c.procMu.Lock()
	c.target = target
	c.procMu.Unlock()
	if err := c.command("refresh-client"); err != nil {
		log.Printf("proxy: control refresh after switch: %v", err)
	}
	return nil
}

func (c *ControlTerminal) Write(data []byte) error {
	if c.lc.State() != StateReady {
		return nil
	}
	c.procMu.Lock()
	target := c.target
	c.procMu.Unlock()
	if target == "" {
		target = c.helperName
	}
	return c.command("send-keys -t " + tmux.ShellQuote(target) + " -l " + tmux.ShellQuote(string(data)))
}

func (c *ControlTerminal) Resize(ctx context.Context, cols, rows int) error {
	c.lc.setDims(cols, rows)

	c.procMu.Lock()
	target := c.target
	c.procMu.Unlock()
	if target == "" {
		target = c.helperName
	}
	return c.adapter.ResizeWindow(ctx, target, cols, rows)
}

func (c *ControlTerminal) Dispose(ctx context.Context) error {
	if c.lc.State() == StateDead {
		return nil
	}
	c.lc.invalidate()
	c.lc.setState(StateDead)
	c.lc.signalDone()

	// Undo our resizes before the client goes away
	c.procMu.Lock()
	origTarget, cols, rows := c.origTarget, c.origCols, c.origRows
	c.procMu.Unlock()
	if origTarget != "" && cols > 0 && rows > 0 {
		if err := c.adapter.ResizeWindow(ctx, origTarget, cols, rows); err != nil {
			log.Printf("proxy: restore window size %s: %v", origTarget, err)
		}
	}

	c.killProcess()

	select {
	case <-c.readerDone:
	case <-time.After(time.Second):
	}
	c.lc.closeOutput()

	if err := c.adapter.KillSession(ctx, c.helperName); err != nil {
		log.Printf("proxy: kill helper %s: %v", c.helperName, err)
	}
	return nil
}

func (c *ControlTerminal) killProcess() {
	c.procMu.Lock()
	cmd, stdin := c.cmd, c.stdin
	c.cmd, c.stdin = nil, nil
	c.procMu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}
