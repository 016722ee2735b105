// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the agentboard components together and owns their
// lifecycles: tmux adapters, the store, scanner, matcher, registry, resume
// manager, hub, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tiagoefreitas/agentboard/internal/api"
	"github.com/tiagoefreitas/agentboard/internal/config"
	"github.com/tiagoefreitas/agentboard/internal/events"
	"github.com/tiagoefreitas/agentboard/internal/hub"
	"github.com/tiagoefreitas/agentboard/internal/logscan"
	"github.com/tiagoefreitas/agentboard/internal/match"
	"github.com/tiagoefreitas/agentboard/internal/proxy"
	"github.com/tiagoefreitas/agentboard/internal/registry"
	"github.com/tiagoefreitas/agentboard/internal/resume"
	"github.com/tiagoefreitas/agentboard/internal/status"
	"github.com/tiagoefreitas/agentboard/internal/store"
	"github.com/tiagoefreitas/agentboard/internal/tmux"
)

// remoteHost is one ssh-reachable tmux server.
type remoteHost struct {
	runner  *tmux.SSHRunner
	adapter *tmux.Adapter
}

// App is the main application container.
type App struct {
	version string
	config  *config.Config

	eventBus  events.EventBus
	store     *store.Store
	adapter   *tmux.Adapter // local
	remotes   map[string]*remoteHost
	scanner   *logscan.Scanner
	matcher   *match.Matcher
	registry  *registry.Registry
	resumeMgr *resume.Manager
	hub       *hub.Hub
	apiServer *api.Server

	bgCancel context.CancelFunc
	bg       *errgroup.Group

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds startup options from flags and environment.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New loads configuration and creates the app. No external processes are
// touched until Initialize.
func New(opts Options) (*App, error) {
	app := &App{
		version: opts.Version,
		remotes: make(map[string]*remoteHost),
		done:    make(chan struct{}),
	}

	loader := config.NewLoader()
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loaded, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else if path, err := loader.FindConfig(); err == nil {
		loaded, err := loader.LoadWithDefaults(context.Background(), path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		log.Printf("Using config file %s", path)
		cfg = loaded
	} else {
		cfg = config.FromEnv()
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app.config = cfg

	historyAge, err := time.ParseDuration(cfg.Events.HistoryMaxAge)
	if err != nil {
		historyAge = time.Hour
	}
	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.HistoryMaxEvents,
		HistoryMaxAge:    historyAge,
	})

	return app, nil
}

// Initialize sets up all components: tmux session, store, scanner, matcher,
// registry, resume manager, hub, and the HTTP server.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	app.adapter = tmux.NewAdapter(tmux.NewLocalRunner())

	if cfg.Tmux.PruneWSSessions {
		app.pruneHelperSessions(ctx)
	}
	if err := app.ensureBaseSession(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	app.store = st

	for _, host := range cfg.Remote.Hosts {
		runner := tmux.NewSSHRunner(tmux.RemoteConfig{
			Host:         host,
			SSHOpts:      strings.Fields(cfg.Remote.SSHOpts),
			Timeout:      cfg.RemoteTimeout(),
			StaleAfter:   cfg.RemoteStaleAfter(),
			AllowControl: cfg.Remote.AllowControl,
		})
		app.remotes[host] = &remoteHost{runner: runner, adapter: tmux.NewAdapter(runner)}
	}

	app.scanner = logscan.NewScanner(logscan.Config{
		ClaudeDir: cfg.Logs.ClaudeDir,
		CodexDir:  cfg.Logs.CodexDir,
		PollMax:   cfg.Logs.PollMax,
		Threads:   cfg.Logs.RGThreads,
	})

	// A nil submitter skips matching entirely; sessions then stay
	// uncorrelated until the worker is re-enabled.
	var submitter registry.Submitter
	if cfg.MatchWorkerEnabled() {
		app.matcher = match.NewMatcher(app.capturePane, match.Config{})
		submitter = app.matcher
	}

	clients := []registry.TmuxClient{app.adapter}
	for _, host := range cfg.Remote.Hosts {
		clients = append(clients, app.remotes[host].adapter)
	}
	app.registry = registry.New(registry.Config{
		BaseSession:       cfg.Tmux.Session,
		DiscoveryPrefixes: cfg.Tmux.DiscoverPrefixes,
		RefreshInterval:   cfg.RefreshInterval(),
		LogScanInterval:   cfg.LogPollInterval(),
		InactiveMaxAge:    app.persistedInactiveMaxAge(),
	}, clients, app.scanner, submitter, status.NewClassifier(status.Config{}), st, app.eventBus)

	app.resumeMgr = resume.NewManager(resume.Config{
		ClaudeResumeCmd: cfg.Resume.ClaudeCmd,
		CodexResumeCmd:  cfg.Resume.CodexCmd,
	}, app.registry, st, app.eventBus)

	app.hub = hub.New(hub.Deps{
		Registry:    app.registry,
		Resume:      app.resumeMgr,
		Store:       st,
		Bus:         app.eventBus,
		Tmux:        app.adapter,
		NewTerminal: app.newTerminal,
	})

	app.apiServer = api.NewServer(api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		TLSCert:      cfg.Server.TLSCert,
		TLSKey:       cfg.Server.TLSKey,
		TLSTailscale: cfg.Server.TLSTailscale,
	}, api.Dependencies{
		Registry:    app.registry,
		Store:       st,
		Settings:    st,
		Tmux:        app.adapter,
		Hub:         app.hub,
		BaseSession: cfg.Tmux.Session,
		OnMaxAgeChange: func(hours int) {
			app.registry.SetInactiveMaxAge(time.Duration(hours) * time.Hour)
		},
	})

	app.applyPersistedMouseMode(ctx)
	return nil
}

// pruneHelperSessions kills leftover per-connection helper sessions from a
// previous run that died without cleanup.
func (app *App) pruneHelperSessions(ctx context.Context) {
	sessions, err := app.adapter.ListSessions(ctx)
	if err != nil {
		log.Printf("Prune: list sessions: %v", err)
		return
	}
	var pruned int
	for _, name := range sessions {
		if !strings.HasPrefix(name, proxy.HelperSessionPrefix) {
			continue
		}
		if err := app.adapter.KillSession(ctx, name); err != nil {
			log.Printf("Prune: kill %s: %v", name, err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		log.Printf("Pruned %d stale helper sessions", pruned)
	}
}

// ensureBaseSession creates the managed tmux session if it does not exist.
func (app *App) ensureBaseSession(ctx context.Context) error {
	session := app.config.Tmux.Session
	if !app.adapter.HasSession(ctx, session) {
		home, _ := os.UserHomeDir()
		if err := app.adapter.NewSession(ctx, session, home); err != nil {
			return fmt.Errorf("create base session %q: %w", session, err)
		}
		log.Printf("Created tmux session %q", session)
	}

	if app.config.Tmux.MonitorTargets {
		if err := app.adapter.SetOption(ctx, session, "monitor-activity", "on"); err != nil {
			log.Printf("Set monitor-activity: %v", err)
		}
	}
	return nil
}

// persistedInactiveMaxAge reads the inactive-list age setting saved by the
// settings endpoint. Zero when unset, which keeps every row visible.
func (app *App) persistedInactiveMaxAge() time.Duration {
	value, err := app.store.AppSetting("inactive_max_age_hours")
	if err != nil || value == "" {
		return 0
	}
	hours, err := strconv.Atoi(value)
	if err != nil || hours <= 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}

// applyPersistedMouseMode re-applies the saved mouse setting to the managed
// session, which is fresh after a reboot.
func (app *App) applyPersistedMouseMode(ctx context.Context) {
	value, err := app.store.AppSetting("tmux_mouse_mode")
	if err != nil || value == "" {
		return
	}
	mouse := "off"
	if value == "true" {
		mouse = "on"
	}
	if err := app.adapter.SetOption(ctx, app.config.Tmux.Session, "mouse", mouse); err != nil {
		log.Printf("Apply mouse mode: %v", err)
	}
}

// capturePane reads scrollback for the matcher, routing by whichever host
// owns the target window.
func (app *App) capturePane(ctx context.Context, target string, lines int) (string, error) {
	if app.registry != nil {
		if w, ok := app.registry.Window(target); ok && w.Host != "" {
			if remote, found := app.remotes[w.Host]; found {
				return remote.adapter.CapturePane(ctx, target, lines)
			}
		}
	}
	return app.adapter.CapturePane(ctx, target, lines)
}

// newTerminal builds a terminal proxy for one WebSocket connection.
func (app *App) newTerminal(host string) proxy.Terminal {
	if host != "" {
		if remote, found := app.remotes[host]; found {
			return proxy.NewSSHTerminal(remote.runner, remote.adapter)
		}
	}

	mode := app.config.Tmux.TerminalMode
	if mode == config.ModeAuto {
		mode = config.ModePipePane
		if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			mode = config.ModePTY
		}
	}
	if mode == config.ModePTY {
		return proxy.NewPTYTerminal(app.adapter, app.config.Tmux.Session)
	}
	return proxy.NewControlTerminal(app.adapter, app.config.Tmux.Session)
}

// Start launches the background tasks and the HTTP server.
func (app *App) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	app.bgCancel = cancel
	app.bg, bgCtx = errgroup.WithContext(bgCtx)

	if app.matcher != nil {
		app.bg.Go(func() error {
			app.matcher.Run(bgCtx)
			return nil
		})
	}

	app.bg.Go(func() error {
		app.registry.Run(bgCtx)
		return nil
	})

	app.bg.Go(func() error {
		if err := app.resumeMgr.ResurrectPinned(bgCtx); err != nil && bgCtx.Err() == nil {
			log.Printf("Resurrecting pinned sessions: %v", err)
		}
		return nil
	})

	app.startLogWatcher(bgCtx)
	app.startRemoteProbes(bgCtx)

	go func() {
		log.Printf("Starting agentboard on %s:%d", app.config.Server.Host, app.config.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
			app.Stop()
		}
	}()

	return nil
}

// startLogWatcher turns filesystem activity in the log trees into early
// registry ticks, so new sessions appear without waiting a full poll.
func (app *App) startLogWatcher(ctx context.Context) {
	claudeDir, codexDir := app.scanner.Roots()
	wake, err := logscan.Watch([]string{claudeDir, codexDir}, ctx.Done())
	if err != nil {
		log.Printf("Log watcher unavailable, polling only: %v", err)
		return
	}

	app.bg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-wake:
				if !ok {
					return nil
				}
				app.registry.Refresh()
			}
		}
	})
}

// startRemoteProbes runs reachability probes for each remote host and
// publishes transitions on the event bus.
func (app *App) startRemoteProbes(ctx context.Context) {
	for host, remote := range app.remotes {
		host := host
		runner := remote.runner
		app.bg.Go(func() error {
			ticker := time.NewTicker(app.config.RemotePollInterval())
			defer ticker.Stop()

			reachable := false
			probe := func() {
				err := runner.Probe(ctx)
				now := err == nil
				if now == reachable {
					return
				}
				reachable = now
				eventType := events.EventRemoteReachable
				if !now {
					eventType = events.EventRemoteUnreachable
					log.Printf("Remote %s unreachable: %v", host, err)
				} else {
					log.Printf("Remote %s reachable", host)
				}
				if err := app.eventBus.Publish(ctx, events.Event{
					Type:    eventType,
					Payload: map[string]interface{}{"host": host},
				}); err != nil {
					log.Printf("Publish %s: %v", eventType, err)
				}
			}

			probe()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					probe()
				}
			}
		})
	}
}

// Run starts the app and blocks until a signal or Stop.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown stops components in dependency order: HTTP server and hub first,
// then the background tasks, then the store and bus.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.bgCancel != nil {
		app.bgCancel()
	}
	if app.bg != nil {
		waitDone := make(chan struct{})
		go func() {
			app.bg.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-shutdownCtx.Done():
			log.Printf("Timed out waiting for background tasks")
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Printf("Error closing store: %v", err)
		}
	}
	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals Run to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
