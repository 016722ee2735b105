// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitchSlotSequential(t *testing.T) {
	var slot switchSlot
	var got []string

	do := func(ctx context.Context, target string) error {
		got = append(got, target)
		return nil
	}

	ok, err := slot.request(context.Background(), "a:1", do)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = slot.request(context.Background(), "a:2", do)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{"a:1", "a:2"}, got)
}

func TestSwitchSlotCoalesces(t *testing.T) {
	var slot switchSlot

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var executed []string

	do := func(ctx context.Context, target string) error {
		mu.Lock()
		executed = append(executed, target)
		first := len(executed) == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return nil
	}

	type outcome struct {
		ok  bool
		err error
	}
	results := make(chan outcome, 3)
	submit := func(target string) {
		ok, err := slot.request(context.Background(), target, do)
		results <- outcome{ok, err}
	}

	go submit("w:1")
	<-started

	// Queued behind the in-flight switch; only the newest survives
	go submit("w:2")
	time.Sleep(20 * time.Millisecond)
	go submit("w:3")
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		res := <-results
		assert.True(t, res.ok)
		assert.NoError(t, res.err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"w:1", "w:3"}, executed)
}

func TestSwitchSlotUsesQueueingRequestersContext(t *testing.T) {
	var slot switchSlot

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	do := func(ctx context.Context, target string) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return ctx.Err()
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := slot.request(firstCtx, "w:1", do)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		ok  bool
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		ok, err := slot.request(context.Background(), "w:2", do)
		second <- outcome{ok, err}
	}()
	time.Sleep(20 * time.Millisecond)

	// The first caller walks away while w:2 sits queued behind its switch;
	// w:2 must still run under the second caller's live context.
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	assert.NoError(t, res.err)
	assert.True(t, res.ok)
}

func TestSwitchSlotAllWaitersGetFinalError(t *testing.T) {
	var slot switchSlot

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	boom := errors.New("switch-client failed")
	do := func(ctx context.Context, target string) error {
		once.Do(func() {
			close(started)
			<-release
		})
		if target == "w:bad" {
			return boom
		}
		return nil
	}

	errs := make(chan error, 2)
	go func() {
		_, err := slot.request(context.Background(), "w:ok", do)
		errs <- err
	}()
	<-started
	go func() {
		_, err := slot.request(context.Background(), "w:bad", do)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	// The superseded caller inherits the final target's failure
	assert.ErrorIs(t, <-errs, boom)
	assert.ErrorIs(t, <-errs, boom)
}

func TestLifecycleStartLeaderAndFollowers(t *testing.T) {
	lc := newLifecycle()

	leader, _, attempt := lc.beginStart()
	require.True(t, leader)

	follower, wait, _ := lc.beginStart()
	require.False(t, follower)

	go func() {
		time.Sleep(10 * time.Millisecond)
		lc.finishStart(attempt, nil)
	}()

	<-wait
	assert.NoError(t, lc.waitErr())
	assert.Equal(t, StateReady, lc.State())

	// Once READY, later callers settle immediately
	again, settled, _ := lc.beginStart()
	assert.False(t, again)
	select {
	case <-settled:
	default:
		t.Fatal("expected pre-closed wait channel after READY")
	}
}

func TestLifecycleInvalidateBlocksLateSuccess(t *testing.T) {
	lc := newLifecycle()

	leader, _, attempt := lc.beginStart()
	require.True(t, leader)
	lc.setState(StateAttaching)

	// Timeout path fires before doStart completes
	lc.invalidate()
	lc.setState(StateDead)

	// The late success must not resurrect the proxy
	assert.False(t, lc.finishStart(attempt, nil))
	assert.Equal(t, StateDead, lc.State())
	assert.False(t, lc.attemptCurrent(attempt))
}

func TestLifecycleEmitSuppressionAndClose(t *testing.T) {
	lc := newLifecycle()

	lc.emit([]byte("one"))
	lc.suppressed.Store(true)
	lc.emit([]byte("hidden"))
	lc.suppressed.Store(false)
	lc.emit([]byte("two"))

	assert.Equal(t, "one", string(<-lc.output))
	assert.Equal(t, "two", string(<-lc.output))

	lc.signalDone()
	lc.signalDone() // idempotent
	lc.closeOutput()
	lc.closeOutput() // idempotent

	_, open := <-lc.output
	assert.False(t, open)
}

func TestLifecycleEmitUnblocksOnDone(t *testing.T) {
	lc := newLifecycle()

	// Fill the buffer with no consumer
	for i := 0; i < cap(lc.output); i++ {
		lc.emit([]byte("x"))
	}

	finished := make(chan struct{})
	go func() {
		lc.emit([]byte("stuck"))
		close(finished)
	}()

	time.Sleep(20 * time.Millisecond)
	lc.signalDone()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("emit did not unblock after signalDone")
	}
}

func TestLifecycleEmitCopiesBuffer(t *testing.T) {
	lc := newLifecycle()

	buf := []byte("abcd")
	lc.emit(buf)
	buf[0] = 'z'

	assert.Equal(t, "abcd", string(<-lc.output))
}

func TestUnescapeControl(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{`hello\012world`, "hello\nworld"},
		{`\033[2J\033[H`, "\x1b[2J\x1b[H"},
		{`back\\slash`, `back\slash`},
		{`tail\01`, `tail\01`}, // truncated escape passes through
		{`not\089octal`, `not\089octal`},
		{`\000`, "\x00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(unescapeControl(tt.in)), "input %q", tt.in)
	}
}

func TestControlReadLoopEmitsOutputLines(t *testing.T) {
	c := NewControlTerminal(nil, "main")

	input := strings.Join([]string{
		"%begin 1700000000 1 0",
		"%end 1700000000 1 0",
		"%output %0 hello\\040there\\012",
		"%session-changed $1 agentboard",
		"%output %0 second",
	}, "\n") + "\n"

	go c.readLoop(strings.NewReader(input))

	assert.Equal(t, "hello there\n", string(<-c.lc.output))
	assert.Equal(t, "second", string(<-c.lc.output))

	select {
	case <-c.readerDone:
	case <-time.After(time.Second):
		t.Fatal("read loop did not finish")
	}
}

func TestErrorRetryability(t *testing.T) {
	wrapped := fmt.Errorf("tmux exited")

	tests := []struct {
		err       *Error
		code      string
		retryable bool
	}{
		{errSessionCreate(wrapped), CodeSessionCreateFailed, false},
		{errAttach(wrapped), CodeTmuxAttachFailed, false},
		{errSwitch(wrapped), CodeTmuxSwitchFailed, true},
		{errTTYTimeout(), CodeTTYDiscoveryTimeout, true},
		{errStartTimeout(), CodeStartTimeout, true},
		{errNotReady(StateAttaching), CodeNotReady, true},
		{errNotReady(StateDead), CodeNotReady, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, tt.err.Code)
		assert.Equal(t, tt.retryable, tt.err.Retryable, tt.code)
	}

	assert.ErrorIs(t, errSwitch(wrapped), wrapped)
	assert.Contains(t, errSwitch(wrapped).Error(), CodeTmuxSwitchFailed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INITIAL", StateInitial.String())
	assert.Equal(t, "ATTACHING", StateAttaching.String())
	assert.Equal(t, "READY", StateReady.String())
	assert.Equal(t, "SWITCHING", StateSwitching.String())
	assert.Equal(t, "DEAD", StateDead.String())
}

func TestHelperNamesUniqueAndPrefixed(t *testing.T) {
	a, b := newHelperName(), newHelperName()
	assert.True(t, strings.HasPrefix(a, HelperSessionPrefix))
	assert.True(t, strings.HasPrefix(b, HelperSessionPrefix))
	assert.NotEqual(t, a, b)
}
