// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"sync"
	"sync/atomic"
)

// lifecycle holds the state shared by all proxy variants: the state machine,
// start-attempt bookkeeping, and the output stream.
type lifecycle struct {
	state atomic.Int32

	mu       sync.Mutex
	attempt  uint64 // current start attempt; stale attempts must not mutate state
	starting bool
	startCh  chan struct{}
	startErr error

	output     chan []byte
	outClosed  bool
	done       chan struct{} // closed on dispose; unblocks stalled emits
	suppressed atomic.Bool

	cols, rows int
}

func newLifecycle() *lifecycle {
	lc := &lifecycle{
		output: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	lc.state.Store(int32(StateInitial))
	return lc
}

func (lc *lifecycle) State() State { return State(lc.state.Load()) }

func (lc *lifecycle) setState(s State) { lc.state.Store(int32(s)) }

// beginStart claims the start if nobody has. Followers get a channel to wait
// on; the leader gets the attempt id it must stay valid for.
func (lc *lifecycle) beginStart() (leader bool, wait <-chan struct{}, attempt uint64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.starting {
		return false, lc.startCh, 0
	}
	if lc.State() == StateReady {
		settled := make(chan struct{})
		close(settled)
		return false, settled, 0
	}
	lc.starting = true
	lc.startCh = make(chan struct{})
	lc.attempt++
	return true, lc.startCh, lc.attempt
}

// finishStart records the leader's outcome if the attempt is still current.
// Returns false when the attempt was invalidated by timeout or dispose.
func (lc *lifecycle) finishStart(attempt uint64, err error) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	current := lc.attempt == attempt
	if current {
		lc.startErr = err
		if err == nil {
			lc.setState(StateReady)
		}
	}
	lc.starting = false
	if lc.startCh != nil {
		close(lc.startCh)
		lc.startCh = nil
	}
	return current
}

// waitErr returns the recorded start outcome for followers.
func (lc *lifecycle) waitErr() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.startErr
}

// invalidate bumps the attempt counter so a late doStart completion cannot
// flip state.
func (lc *lifecycle) invalidate() {
	lc.mu.Lock()
	lc.attempt++
	lc.starting = false
	if lc.startCh != nil {
		close(lc.startCh)
		lc.startCh = nil
	}
	lc.mu.Unlock()
}

// attemptCurrent reports whether the given attempt is still the live one.
func (lc *lifecycle) attemptCurrent(attempt uint64) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.attempt == attempt
}

// emit forwards output to the consumer unless suppressed. A stalled consumer
// backpressures the reader; frames are never reordered or dropped from the
// middle of the stream.
func (lc *lifecycle) emit(data []byte) {
	if lc.suppressed.Load() {
		return
	}
	// Copy: callers reuse their read buffers
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case lc.output <- frame:
	case <-lc.done:
	}
}

// closeOutput ends the stream. Call only after every emitter has returned.
// Idempotent.
func (lc *lifecycle) closeOutput() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.outClosed {
		lc.outClosed = true
		close(lc.output)
	}
}

// signalDone unblocks stalled emitters ahead of closeOutput. Idempotent.
func (lc *lifecycle) signalDone() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	select {
	case <-lc.done:
	default:
		close(lc.done)
	}
}

// setDims caches the last requested size for re-apply after reconnect.
func (lc *lifecycle) setDims(cols, rows int) {
	lc.mu.Lock()
	lc.cols, lc.rows = cols, rows
	lc.mu.Unlock()
}

func (lc *lifecycle) dims() (cols, rows int) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.cols, lc.rows
}
