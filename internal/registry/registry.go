// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the authoritative in-memory view of managed tmux
// windows and agent sessions, and emits a coalesced diff stream over the
// event bus.
package registry

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiagoefreitas/agentboard/internal/events"
	"github.com/tiagoefreitas/agentboard/internal/logscan"
	"github.com/tiagoefreitas/agentboard/internal/match"
	"github.com/tiagoefreitas/agentboard/internal/proxy"
	"github.com/tiagoefreitas/agentboard/internal/status"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

// TmuxClient is the slice of the tmux adapter the registry drives. One client
// per host; implemented by *tmux.Adapter.
type TmuxClient interface {
	Host() string
	ListAllWindows(ctx context.Context) ([]tmux.Window, error)
	CapturePane(ctx context.Context, target string, lines int) (string, error)
	NewWindow(ctx context.Context, session, workdir, name, command string) (string, error)
	KillWindow(ctx context.Context, target string) error
	RenameWindow(ctx context.Context, target, name string) error
}

// LogScanner produces enriched log records, newest first.
type LogScanner interface {
	Scan(ctx context.Context) ([]logscan.Record, error)
}

// Submitter accepts matching work. Implemented by *match.Matcher.
type Submitter interface {
	Submit(req match.Request)
}

// Config tunes the registry's polling and retention.
type Config struct {
	BaseSession         string        // managed session name, default "agentboard"
	DiscoveryPrefixes   []string      // extra session-name prefixes to surface
	RefreshInterval     time.Duration // poll tick, default 2s
	ScrollbackLines     int           // capture depth for classification, default 50
	MatchTimeout        time.Duration // per-tick wait on the matcher, default 5s
	LogScanInterval     time.Duration // min gap between log-tree scans; 0 scans every tick
	CoalesceWindow      time.Duration // min gap between updates per session, default 50ms
	InactiveMaxAge      time.Duration // hide inactive sessions older than this; 0 keeps all
	FreshActivityWindow time.Duration // log growth this recent keeps a dead window's session visible, default 30s
}

func (c *Config) fillDefaults() {
	if c.BaseSession == "" {
		c.BaseSession = "agentboard"
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 2 * time.Second
	}
	if c.ScrollbackLines <= 0 {
		c.ScrollbackLines = 50
	}
	if c.MatchTimeout <= 0 {
		c.MatchTimeout = 5 * time.Second
	}
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = 50 * time.Millisecond
	}
	if c.FreshActivityWindow <= 0 {
		c.FreshActivityWindow = 30 * time.Second
	}
}

// Registry joins tmux windows, scanner records, matcher pairings, and store
// rows into the presentation view. All mutation happens on the Run goroutine;
// snapshots are served from a copy under the read lock.
type Registry struct {
	cfg        Config
	clients    []TmuxClient
	scanner    LogScanner
	matcher    Submitter
	classifier *status.Classifier
	st         *store.Store
	bus        events.EventBus

	mu      sync.RWMutex
	windows map[string]tmux.Window
	view    map[string]Session

	// Poller-goroutine state, not locked
	growth      map[string]time.Time // logPath -> last observed size change
	sizes       map[string]int64     // logPath -> last observed size
	created     map[string]bool      // sessionIds announced via session.created
	lastEmit    map[string]time.Time // sessionId/target -> last update emission
	lastScan    time.Time            // last log-tree scan
	lastRecords []logscan.Record     // records from that scan
	scanNow     bool                 // forced refresh scans regardless of interval

	inactiveMaxAge atomic.Int64 // nanoseconds; settable at runtime

	refresh chan struct{}
}

// New creates a registry. clients must contain the local adapter first;
// remote adapters follow.
func New(cfg Config, clients []TmuxClient, scanner LogScanner, matcher Submitter,
	classifier *status.Classifier, st *store.Store, bus events.EventBus) *Registry {
	cfg.fillDefaults()
	r := &Registry{
		cfg:        cfg,
		clients:    clients,
		scanner:    scanner,
		matcher:    matcher,
		classifier: classifier,
		st:         st,
		bus:        bus,
		windows:    make(map[string]tmux.Window),
		view:       make(map[string]Session),
		growth:     make(map[string]time.Time),
		sizes:      make(map[string]int64),
		created:    make(map[string]bool),
		lastEmit:   make(map[string]time.Time),
		refresh:    make(chan struct{}, 1),
	}
	r.inactiveMaxAge.Store(int64(cfg.InactiveMaxAge))
	return r
}

// SetInactiveMaxAge changes the inactive-list age filter at runtime, driven
// by the settings endpoint.
func (r *Registry) SetInactiveMaxAge(d time.Duration) {
	r.inactiveMaxAge.Store(int64(d))
}

// Refresh forces a poll tick ahead of schedule. Coalesces with any pending
// request.
func (r *Registry) Refresh() {
	select {
	case r.refresh <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		case <-r.refresh:
			r.scanNow = true
			r.tick(ctx)
		}
	}
}

// Snapshot returns the current presentation view, most recent first.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]Session, 0, len(r.view))
	for _, s := range r.view {
		sessions = append(sessions, s)
	}
	sortSessions(sessions)
	return sessions
}

// Window returns the live window for a target, if present.
func (r *Registry) Window(target string) (tmux.Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[target]
	return w, ok
}

// AgentSessions partitions persisted sessions into active (correlated to a
// window) and inactive (orphaned, bounded by InactiveMaxAge).
func (r *Registry) AgentSessions() (active, inactive []store.AgentSession, err error) {
	active, err = r.st.ActiveSessions()
	if err != nil {
		return nil, nil, err
	}
	inactive, err = r.st.InactiveSessions(time.Duration(r.inactiveMaxAge.Load()))
	if err != nil {
		return nil, nil, err
	}
	return active, inactive, nil
}

// CreateWindow opens a new managed window running command in workdir.
func (r *Registry) CreateWindow(ctx context.Context, workdir, name, command string) (string, error) {
	target, err := r.clients[0].NewWindow(ctx, r.cfg.BaseSession, workdir, name, command)
	if err != nil {
		return "", err
	}
	r.Refresh()
	return target, nil
}

// KillWindow closes a window on whichever host owns it.
func (r *Registry) KillWindow(ctx context.Context, target string) error {
	r.mu.RLock()
	w, ok := r.windows[target]
	r.mu.RUnlock()

	host := ""
	if ok {
		host = w.Host
	}
	if err := r.clientFor(host).KillWindow(ctx, target); err != nil {
		return err
	}
	r.Refresh()
	return nil
}

// RenameSession updates a session's display name and renames the correlated
// tmux window when one exists. Duplicate display names are rejected.
func (r *Registry) RenameSession(ctx context.Context, sessionID, name string) error {
	sess, err := r.st.SessionByID(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	if sess.DisplayName != name {
		exists, err := r.st.DisplayNameExists(name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("display name %q already in use", name)
		}
	}
	if err := r.st.UpdateSession(sessionID, store.Patch{DisplayName: &name}); err != nil {
		return err
	}
	if sess.CurrentWindow != nil {
		target := *sess.CurrentWindow
		r.mu.RLock()
		w, ok := r.windows[target]
		r.mu.RUnlock()
		host := ""
		if ok {
			host = w.Host
		}
		if err := r.clientFor(host).RenameWindow(ctx, target, name); err != nil {
			log.Printf("registry: rename window %s: %v", target, err)
		}
	}
	r.Refresh()
	return nil
}

// SetPinned toggles a session's persistence across window loss.
func (r *Registry) SetPinned(sessionID string, pinned bool) error {
	if err := r.st.SetPinned(sessionID, pinned); err != nil {
		return err
	}
	r.Refresh()
	return nil
}

func (r *Registry) clientFor(host string) TmuxClient {
	for _, c := range r.clients {
		if c.Host() == host {
			return c
		}
	}
	return r.clients[0]
}

// tick runs one full poll pass.
func (r *Registry) tick(ctx context.Context) {
	now := time.Now()

	windows := r.collectWindows(ctx)
	r.diffWindows(ctx, windows)

	if r.scanNow || r.lastScan.IsZero() || now.Sub(r.lastScan) >= r.cfg.LogScanInterval {
		r.scanNow = false
		r.lastScan = now
		r.lastRecords = r.scanRecords(ctx)
		r.upsertRecords(ctx, r.lastRecords, now)
	}
	records := r.lastRecords

	pairings := r.runMatch(ctx, windows, records)
	r.applyPairings(ctx, pairings, now)
	r.orphanDeparted(ctx, windows, now)

	r.rebuildView(ctx, windows, now)
}

// collectWindows lists windows on every host and keeps those in the managed
// session or under a discovery prefix. Proxy helper sessions never surface.
func (r *Registry) collectWindows(ctx context.Context) map[string]tmux.Window {
	windows := make(map[string]tmux.Window)
	for _, client := range r.clients {
		listed, err := client.ListAllWindows(ctx)
		if err != nil {
			log.Printf("registry: list windows host=%q: %v", client.Host(), err)
			continue
		}
		for _, w := range listed {
			if strings.HasPrefix(w.SessionName, proxy.HelperSessionPrefix) {
				continue
			}
			switch {
			case client.Host() == "" && w.SessionName == r.cfg.BaseSession:
				w.Source = tmux.SourceManaged
			case r.matchesPrefix(w.SessionName):
				w.Source = tmux.SourceExternal
			default:
				continue
			}
			windows[windowKey(w)] = w
		}
	}
	return windows
}

func (r *Registry) matchesPrefix(sessionName string) bool {
	for _, p := range r.cfg.DiscoveryPrefixes {
		if p != "" && strings.HasPrefix(sessionName, p) {
			return true
		}
	}
	return false
}

// windowKey identifies a window across hosts.
func windowKey(w tmux.Window) string {
	if w.Host == "" {
		return w.Target
	}
	return w.Host + "/" + w.Target
}

func (r *Registry) diffWindows(ctx context.Context, current map[string]tmux.Window) {
	r.mu.Lock()
	prior := r.windows
	r.windows = current
	r.mu.Unlock()

	for key, w := range current {
		old, ok := prior[key]
		if !ok {
			r.publish(ctx, events.Event{
				Type:    events.EventWindowAdded,
				Payload: map[string]interface{}{"target": w.Target, "host": w.Host, "name": w.Name},
			})
			continue
		}
		if old.Name != w.Name {
			r.publish(ctx, events.Event{
				Type:    events.EventWindowRenamed,
				Payload: map[string]interface{}{"target": w.Target, "host": w.Host, "from": old.Name, "to": w.Name},
			})
		}
	}
	for key, w := range prior {
		if _, ok := current[key]; !ok {
			r.publish(ctx, events.Event{
				Type:    events.EventWindowRemoved,
				Payload: map[string]interface{}{"target": w.Target, "host": w.Host, "name": w.Name},
			})
		}
	}
}

func (r *Registry) scanRecords(ctx context.Context) []logscan.Record {
	records, err := r.scanner.Scan(ctx)
	if err != nil {
		log.Printf("registry: log scan: %v", err)
	}
	return records
}

// upsertRecords folds scanner output into the store and tracks log growth.
// session.created fires exactly once per sessionId.
func (r *Registry) upsertRecords(ctx context.Context, records []logscan.Record, now time.Time) {
	for _, rec := range records {
		if size, ok := r.sizes[rec.LogPath]; !ok || size != rec.LastKnownLogSize {
			r.sizes[rec.LogPath] = rec.LastKnownLogSize
			r.growth[rec.LogPath] = now
		}
		if rec.IsCodexSubagent {
			continue
		}

		sess, err := r.st.SessionByLogPath(rec.LogPath)
		if err != nil {
			log.Printf("registry: lookup %s: %v", rec.LogPath, err)
			continue
		}
		if sess == nil {
			if sess, err = r.adoptRenamedLog(rec); err != nil {
				log.Printf("registry: adopt %s: %v", rec.LogPath, err)
				continue
			}
		}
		if sess == nil {
			r.insertSession(ctx, rec)
			continue
		}

		patch := store.Patch{
			LastActivityAt:   &rec.LastActivityAt,
			LastKnownLogSize: &rec.LastKnownLogSize,
		}
		if rec.LastUserMessage != "" {
			patch.LastUserMessage = &rec.LastUserMessage
		}
		if rec.ProjectPath != "" && rec.ProjectPath != sess.ProjectPath {
			patch.ProjectPath = &rec.ProjectPath
		}
		if rec.IsCodexExec != sess.IsCodexExec {
			patch.IsCodexExec = &rec.IsCodexExec
		}
		if err := r.st.UpdateSession(sess.SessionID, patch); err != nil {
			log.Printf("registry: update %s: %v", sess.SessionID, err)
		}
	}
}

// adoptRenamedLog handles agents that write a fresh log file on resume while
// keeping the sessionId. Returns the rebound session, or nil when the log is
// genuinely new.
func (r *Registry) adoptRenamedLog(rec logscan.Record) (*store.AgentSession, error) {
	sess, err := r.st.SessionByID(rec.SessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	if err := r.st.RebindLogPath(sess.SessionID, rec.LogPath); err != nil {
		return nil, err
	}
	sess.LogFilePath = rec.LogPath
	return sess, nil
}

func (r *Registry) insertSession(ctx context.Context, rec logscan.Record) {
	name := filepath.Base(rec.ProjectPath)
	if name == "" || name == "." || name == "/" {
		name = string(rec.AgentType)
	}
	if exists, err := r.st.DisplayNameExists(name); err == nil && exists {
		suffix := rec.SessionID
		if len(suffix) > 6 {
			suffix = suffix[:6]
		}
		name = name + "-" + suffix
	}

	size := rec.LastKnownLogSize
	sess := &store.AgentSession{
		SessionID:        rec.SessionID,
		LogFilePath:      rec.LogPath,
		ProjectPath:      rec.ProjectPath,
		AgentType:        rec.AgentType,
		DisplayName:      name,
		CreatedAt:        rec.LastActivityAt,
		LastActivityAt:   rec.LastActivityAt,
		LastKnownLogSize: &size,
		IsCodexExec:      rec.IsCodexExec,
	}
	if rec.LastUserMessage != "" {
		msg := rec.LastUserMessage
		sess.LastUserMessage = &msg
	}
	if err := r.st.InsertSession(sess); err != nil {
		log.Printf("registry: insert %s: %v", rec.SessionID, err)
		return
	}
	if !r.created[sess.SessionID] {
		r.created[sess.SessionID] = true
		r.publish(ctx, events.Event{
			Type:      events.EventSessionCreated,
			SessionID: sess.SessionID,
			Payload:   map[string]interface{}{"displayName": sess.DisplayName, "agentType": string(sess.AgentType)},
		})
	}
}

// runMatch hands the tick's windows and records to the matcher and waits for
// its pass, bounded by MatchTimeout.
func (r *Registry) runMatch(ctx context.Context, windows map[string]tmux.Window, records []logscan.Record) map[string]string {
	if r.matcher == nil {
		return nil
	}
	active, err := r.st.ActiveSessions()
	if err != nil {
		log.Printf("registry: active sessions: %v", err)
	}
	known := make([]match.KnownSession, 0, len(active))
	for _, s := range active {
		k := match.KnownSession{SessionID: s.SessionID, LogPath: s.LogFilePath}
		if s.CurrentWindow != nil {
			k.CurrentWindow = *s.CurrentWindow
		}
		if s.LastKnownLogSize != nil {
			k.LastKnownLogSize = *s.LastKnownLogSize
		}
		known = append(known, k)
	}

	list := make([]tmux.Window, 0, len(windows))
	for _, w := range windows {
		list = append(list, w)
	}

	response := make(chan match.Result, 1)
	r.matcher.Submit(match.Request{
		Windows:  list,
		Known:    known,
		Records:  records,
		Response: response,
	})

	select {
	case res := <-response:
		return res.Pairings
	case <-time.After(r.cfg.MatchTimeout):
		log.Printf("registry: matcher pass timed out")
		return nil
	case <-ctx.Done():
		return nil
	}
}

// applyPairings updates window correlations. At most one session may hold a
// window, so a superseded holder is orphaned first.
func (r *Registry) applyPairings(ctx context.Context, pairings map[string]string, now time.Time) {
	for logPath, target := range pairings {
		sess, err := r.st.SessionByLogPath(logPath)
		if err != nil || sess == nil {
			continue
		}
		if sess.CurrentWindow != nil && *sess.CurrentWindow == target {
			continue
		}

		if holder, err := r.st.SessionByWindow(target); err == nil && holder != nil && holder.SessionID != sess.SessionID {
			if err := r.st.OrphanSession(holder.SessionID); err != nil {
				log.Printf("registry: orphan superseded %s: %v", holder.SessionID, err)
			}
			r.publish(ctx, events.Event{
				Type:      events.EventSessionOrphaned,
				SessionID: holder.SessionID,
				Payload:   map[string]interface{}{"reason": "superseded", "target": target},
			})
		}

		wasOrphaned := sess.CurrentWindow == nil

		t := target
		patch := store.Patch{CurrentWindow: &t, SetCurrentWindow: true, LastActivityAt: &now}
		if err := r.st.UpdateSession(sess.SessionID, patch); err != nil {
			log.Printf("registry: correlate %s -> %s: %v", sess.SessionID, target, err)
			continue
		}
		if wasOrphaned {
			r.publish(ctx, events.Event{
				Type:      events.EventSessionActivated,
				SessionID: sess.SessionID,
				Payload:   map[string]interface{}{"target": target, "displayName": sess.DisplayName},
			})
		}
	}
}

// orphanDeparted clears correlations whose window is gone. Pinned sessions
// and sessions with fresh log activity are orphaned quietly; the rest also
// announce removal.
func (r *Registry) orphanDeparted(ctx context.Context, windows map[string]tmux.Window, now time.Time) {
	active, err := r.st.ActiveSessions()
	if err != nil {
		return
	}
	live := make(map[string]bool, len(windows))
	for _, w := range windows {
		live[w.Target] = true
	}

	for _, sess := range active {
		if sess.CurrentWindow == nil || live[*sess.CurrentWindow] {
			continue
		}
		if err := r.st.OrphanSession(sess.SessionID); err != nil {
			log.Printf("registry: orphan %s: %v", sess.SessionID, err)
			continue
		}

		fresh := now.Sub(r.growth[sess.LogFilePath]) < r.cfg.FreshActivityWindow
		r.publish(ctx, events.Event{
			Type:      events.EventSessionOrphaned,
			SessionID: sess.SessionID,
			Payload:   map[string]interface{}{"reason": "window-closed"},
		})
		if !sess.IsPinned && !fresh {
			r.publish(ctx, events.Event{
				Type:      events.EventSessionRemoved,
				SessionID: sess.SessionID,
				Payload:   map[string]interface{}{"displayName": sess.DisplayName},
			})
		}
	}
}

// rebuildView recomputes the presentation view, classifies every window, and
// emits coalesced per-session updates.
func (r *Registry) rebuildView(ctx context.Context, windows map[string]tmux.Window, now time.Time) {
	next := make(map[string]Session, len(windows))

	for key, w := range windows {
		view := Session{
			TmuxTarget:     w.Target,
			WindowName:     w.Name,
			SessionName:    w.SessionName,
			Host:           w.Host,
			Source:         w.Source,
			CreatedAt:      w.CreatedAt,
			LastActivityAt: w.LastActivityAt,
			Status:         status.StatusUnknown,
		}

		if sess, err := r.st.SessionByWindow(w.Target); err == nil && sess != nil {
			view.Agent = sess
			if sess.LastActivityAt.After(view.LastActivityAt) {
				view.LastActivityAt = sess.LastActivityAt
			}
			view.Status = r.classify(ctx, w, sess.LogFilePath, now)
		} else {
			view.Status = r.classify(ctx, w, "", now)
		}
		next[key] = view
	}

	r.mu.Lock()
	prior := r.view
	r.view = next
	r.mu.Unlock()

	r.emitDiffs(ctx, prior, next, now)
}

func (r *Registry) classify(ctx context.Context, w tmux.Window, logPath string, now time.Time) status.Status {
	scrollback, err := r.clientFor(w.Host).CapturePane(ctx, w.Target, r.cfg.ScrollbackLines)
	if err != nil {
		return status.StatusUnknown
	}
	var lastGrowth time.Time
	if logPath != "" {
		lastGrowth = r.growth[logPath]
	}
	return r.classifier.Classify(scrollback, lastGrowth, now)
}

// emitDiffs publishes one session.updated per changed view, coalesced so a
// session never emits twice within CoalesceWindow. Status edges additionally
// publish status events.
func (r *Registry) emitDiffs(ctx context.Context, prior, next map[string]Session, now time.Time) {
	for key, view := range next {
		old, existed := prior[key]
		if existed && sessionEqual(old, view) {
			continue
		}

		if existed && old.Status != view.Status {
			sid := ""
			if view.Agent != nil {
				sid = view.Agent.SessionID
			}
			r.publish(ctx, events.Event{
				Type:      events.EventStatusChanged,
				SessionID: sid,
				Payload:   map[string]interface{}{"target": view.TmuxTarget, "from": string(old.Status), "to": string(view.Status)},
			})
			if view.Status == status.StatusPermission {
				r.publish(ctx, events.Event{
					Type:      events.EventStatusPermission,
					SessionID: sid,
					Payload:   map[string]interface{}{"target": view.TmuxTarget},
				})
			}
		}

		if last, ok := r.lastEmit[key]; ok && now.Sub(last) < r.cfg.CoalesceWindow {
			// Suppressed now; the next tick re-diffs against the emitted view
			r.mu.Lock()
			if existed {
				r.view[key] = old
			}
			r.mu.Unlock()
			continue
		}
		r.lastEmit[key] = now

		sid := ""
		if view.Agent != nil {
			sid = view.Agent.SessionID
		}
		r.publish(ctx, events.Event{
			Type:      events.EventSessionUpdated,
			SessionID: sid,
			Payload:   map[string]interface{}{"session": view},
		})
	}

	for key := range prior {
		if _, ok := next[key]; !ok {
			delete(r.lastEmit, key)
		}
	}
}

func (r *Registry) publish(ctx context.Context, event events.Event) {
	if err := r.bus.Publish(ctx, event); err != nil {
		log.Printf("registry: publish %s: %v", event.Type, err)
	}
}
