// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with environment overrides and default
// values applied, in that order.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// FromEnv builds a configuration from environment variables alone, for
// running without a config file.
func FromEnv() *Config {
	cfg := &Config{}
	ApplyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

// FindConfig searches for a config file in the current directory.
// It looks for agentboard.hjson first, then agentboard.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"agentboard.hjson",
		"agentboard.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for agentboard.hjson, agentboard.json)")
}

// ApplyEnv overlays recognized environment variables onto cfg. Set variables
// win over file values.
func ApplyEnv(cfg *Config) {
	envInt("PORT", &cfg.Server.Port)
	envStr("HOSTNAME", &cfg.Server.Host)
	envStr("TLS_CERT", &cfg.Server.TLSCert)
	envStr("TLS_KEY", &cfg.Server.TLSKey)
	envBool("TLS_TAILSCALE", &cfg.Server.TLSTailscale)

	envStr("TMUX_SESSION", &cfg.Tmux.Session)
	envInt("REFRESH_INTERVAL_MS", &cfg.Tmux.RefreshIntervalMs)
	envCSV("DISCOVER_PREFIXES", &cfg.Tmux.DiscoverPrefixes)
	envBool("PRUNE_WS_SESSIONS", &cfg.Tmux.PruneWSSessions)
	envBool("TERMINAL_MONITOR_TARGETS", &cfg.Tmux.MonitorTargets)
	if v := os.Getenv("TERMINAL_MODE"); v != "" {
		cfg.Tmux.TerminalMode = TerminalMode(v)
	}

	envStr("CLAUDE_CONFIG_DIR", &cfg.Logs.ClaudeDir)
	envStr("CODEX_HOME", &cfg.Logs.CodexDir)
	envInt("AGENTBOARD_LOG_POLL_MS", &cfg.Logs.PollIntervalMs)
	envInt("AGENTBOARD_LOG_POLL_MAX", &cfg.Logs.PollMax)
	envInt("AGENTBOARD_RG_THREADS", &cfg.Logs.RGThreads)
	envBoolPtr("AGENTBOARD_LOG_MATCH_WORKER", &cfg.Logs.MatchWorker)

	envStr("CLAUDE_RESUME_CMD", &cfg.Resume.ClaudeCmd)
	envStr("CODEX_RESUME_CMD", &cfg.Resume.CodexCmd)

	envCSV("AGENTBOARD_REMOTE_HOSTS", &cfg.Remote.Hosts)
	if host := os.Getenv("AGENTBOARD_HOST"); host != "" && !contains(cfg.Remote.Hosts, host) {
		cfg.Remote.Hosts = append([]string{host}, cfg.Remote.Hosts...)
	}
	envInt("AGENTBOARD_REMOTE_POLL_MS", &cfg.Remote.PollMs)
	envInt("AGENTBOARD_REMOTE_TIMEOUT_MS", &cfg.Remote.TimeoutMs)
	envInt("AGENTBOARD_REMOTE_STALE_MS", &cfg.Remote.StaleMs)
	envStr("AGENTBOARD_REMOTE_SSH_OPTS", &cfg.Remote.SSHOpts)
	envBool("AGENTBOARD_REMOTE_ALLOW_CONTROL", &cfg.Remote.AllowControl)
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3030
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}

	if cfg.Tmux.Session == "" {
		cfg.Tmux.Session = "agentboard"
	}
	if cfg.Tmux.RefreshIntervalMs == 0 {
		cfg.Tmux.RefreshIntervalMs = 2000
	}
	if cfg.Tmux.TerminalMode == "" {
		cfg.Tmux.TerminalMode = ModeAuto
	}

	if cfg.Logs.PollIntervalMs == 0 {
		cfg.Logs.PollIntervalMs = 5000
	}
	if cfg.Logs.PollMax == 0 {
		cfg.Logs.PollMax = 25
	}
	if cfg.Logs.RGThreads == 0 {
		cfg.Logs.RGThreads = 2
	}

	if cfg.Resume.ClaudeCmd == "" {
		cfg.Resume.ClaudeCmd = "claude --resume {sessionId}"
	}
	if cfg.Resume.CodexCmd == "" {
		cfg.Resume.CodexCmd = "codex resume {sessionId}"
	}

	if cfg.Remote.PollMs == 0 {
		cfg.Remote.PollMs = 10000
	}
	if cfg.Remote.TimeoutMs == 0 {
		cfg.Remote.TimeoutMs = 10000
	}
	if cfg.Remote.StaleMs == 0 {
		cfg.Remote.StaleMs = 15000
	}

	if cfg.Store.Path == "" {
		home, _ := os.UserHomeDir()
		cfg.Store.Path = filepath.Join(home, ".agentboard", "agentboard.db")
	}

	if cfg.Events.HistoryMaxEvents == 0 {
		cfg.Events.HistoryMaxEvents = 10000
	}
	if cfg.Events.HistoryMaxAge == "" {
		cfg.Events.HistoryMaxAge = "1h"
	}
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}

func envBoolPtr(key string, dst **bool) {
	var b bool
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			b = true
		case "0", "false", "no", "off":
			b = false
		default:
			return
		}
		*dst = &b
	}
}

func envCSV(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
