// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading with environment
// variable overrides.
package config

import "time"

// TerminalMode selects how terminal proxies attach locally.
type TerminalMode string

const (
	ModeAuto     TerminalMode = "auto"      // pty when stdin is a terminal, else pipe-pane
	ModePTY      TerminalMode = "pty"       // force tmux attach under a pseudo-terminal
	ModePipePane TerminalMode = "pipe-pane" // force control-mode attach
)

// Config is the root configuration structure for Agentboard.
type Config struct {
	Server ServerConfig `json:"server"`
	Tmux   TmuxConfig   `json:"tmux"`
	Logs   LogsConfig   `json:"logs"`
	Resume ResumeConfig `json:"resume"`
	Remote RemoteConfig `json:"remote"`
	Store  StoreConfig  `json:"store"`
	Events EventsConfig `json:"events"`
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	TLSCert      string `json:"tls_cert"` // enables HTTPS when both cert and key are set
	TLSKey       string `json:"tls_key"`
	TLSTailscale bool   `json:"tls_tailscale"` // fetch certificates from the local tailscaled
}

// TmuxConfig configures the managed session and window discovery.
type TmuxConfig struct {
	Session           string       `json:"session"`            // managed session name
	RefreshIntervalMs int          `json:"refresh_interval_ms"`
	DiscoverPrefixes  []string     `json:"discover_prefixes"`  // extra session-name prefixes to surface
	PruneWSSessions   bool         `json:"prune_ws_sessions"`  // kill leftover helper sessions at boot
	TerminalMode      TerminalMode `json:"terminal_mode"`
	MonitorTargets    bool         `json:"monitor_targets"`    // set monitor-activity on managed windows
}

// LogsConfig configures the agent log scanner.
type LogsConfig struct {
	ClaudeDir      string `json:"claude_dir"` // default ~/.claude/projects
	CodexDir       string `json:"codex_dir"`  // default ~/.codex/sessions
	PollIntervalMs int    `json:"poll_interval_ms"`
	PollMax        int    `json:"poll_max"`
	MatchWorker    *bool  `json:"match_worker"` // run the log-to-window matcher; nil means on
	RGThreads      int    `json:"rg_threads"`   // parallelism for tail parsing
}

// ResumeConfig holds the resume command templates. {sessionId} is replaced
// with the agent session id.
type ResumeConfig struct {
	ClaudeCmd string `json:"claude_cmd"`
	CodexCmd  string `json:"codex_cmd"`
}

// RemoteConfig configures ssh-reachable tmux hosts.
type RemoteConfig struct {
	Hosts        []string `json:"hosts"`
	PollMs       int      `json:"poll_ms"`       // reachability probe interval
	TimeoutMs    int      `json:"timeout_ms"`    // per-call ssh bound
	StaleMs      int      `json:"stale_ms"`      // probe freshness window
	SSHOpts      string   `json:"ssh_opts"`      // extra ssh options, space separated
	AllowControl bool     `json:"allow_control"` // keep ControlMaster as the user configured it
}

// StoreConfig locates the embedded database.
type StoreConfig struct {
	Path string `json:"path"` // default ~/.agentboard/agentboard.db
}

// EventsConfig configures event bus history retention.
type EventsConfig struct {
	HistoryMaxEvents int    `json:"history_max_events"`
	HistoryMaxAge    string `json:"history_max_age"` // duration string, e.g. "1h"
}

// RefreshInterval returns the registry poll interval.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Tmux.RefreshIntervalMs) * time.Millisecond
}

// LogPollInterval returns the scanner tick interval.
func (c *Config) LogPollInterval() time.Duration {
	return time.Duration(c.Logs.PollIntervalMs) * time.Millisecond
}

// MatchWorkerEnabled reports whether the log-to-window matcher runs. On
// unless explicitly disabled.
func (c *Config) MatchWorkerEnabled() bool {
	return c.Logs.MatchWorker == nil || *c.Logs.MatchWorker
}

// RemotePollInterval returns the remote probe interval.
func (c *Config) RemotePollInterval() time.Duration {
	return time.Duration(c.Remote.PollMs) * time.Millisecond
}

// RemoteTimeout returns the per-call ssh bound.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutMs) * time.Millisecond
}

// RemoteStaleAfter returns the reachability freshness window.
func (c *Config) RemoteStaleAfter() time.Duration {
	return time.Duration(c.Remote.StaleMs) * time.Millisecond
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLSTailscale || (c.Server.TLSCert != "" && c.Server.TLSKey != "")
}
