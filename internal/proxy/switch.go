// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"sync"
)

// switchFunc performs one actual client switch.
type switchFunc func(ctx context.Context, target string) error

type switchResult struct {
	ok  bool
	err error
}

// switchSlot coalesces concurrent switch requests. Only the newest pending
// target is executed; every waiter, including those whose target was
// superseded, receives the final outcome.
type switchSlot struct {
	mu         sync.Mutex
	pending    string
	pendingCtx context.Context // context of the requester that set pending
	has        bool
	running    bool
	waiters    []chan switchResult
}

// request queues target and blocks until the loop settles. The returned bool
// is true when the final executed target succeeded.
func (s *switchSlot) request(ctx context.Context, target string, do switchFunc) (bool, error) {
	done := make(chan switchResult, 1)

	s.mu.Lock()
	s.pending = target
	s.pendingCtx = ctx
	s.has = true
	s.waiters = append(s.waiters, done)
	startLoop := !s.running
	if startLoop {
		s.running = true
	}
	s.mu.Unlock()

	if startLoop {
		go s.loop(do)
	}

	select {
	case res := <-done:
		return res.ok, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// loop drains pending targets until none remain, then delivers the last
// result to everyone who was waiting. Each target runs under the context of
// the requester that queued it, so an earlier caller bailing out cannot
// cancel a later caller's switch.
func (s *switchSlot) loop(do switchFunc) {
	var last switchResult
	for {
		s.mu.Lock()
		if !s.has {
			waiters := s.waiters
			s.waiters = nil
			s.running = false
			s.mu.Unlock()
			for _, w := range waiters {
				w <- last
			}
			return
		}
		target := s.pending
		ctx := s.pendingCtx
		s.has = false
		s.mu.Unlock()

		err := do(ctx, target)
		last = switchResult{ok: err == nil, err: err}
	}
}
