// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, NewValidator().Validate(validConfig()))
}

func TestValidatePort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateTLSPair(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLSCert = "/etc/cert.pem"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls_cert and tls_key must be set together")
}

func TestValidateSessionName(t *testing.T) {
	cfg := validConfig()
	cfg.Tmux.Session = "my board"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tmux.session")
}

func TestValidateTerminalMode(t *testing.T) {
	cfg := validConfig()
	cfg.Tmux.TerminalMode = "screen"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal_mode")
}

func TestValidateResumeTemplates(t *testing.T) {
	cfg := validConfig()
	cfg.Resume.ClaudeCmd = "claude --resume"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{sessionId}")
}

func TestValidateRemote(t *testing.T) {
	cfg := validConfig()
	cfg.Remote.Hosts = []string{"good", " "}
	cfg.Remote.TimeoutMs = 500

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.hosts[1]")
	assert.Contains(t, err.Error(), "remote.timeout_ms")
}

func TestValidateEventsHistoryAge(t *testing.T) {
	cfg := validConfig()
	cfg.Events.HistoryMaxAge = "one hour"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history_max_age")
}

func TestValidationErrorAggregates(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Tmux.Session = ""

	err := NewValidator().Validate(cfg)
	require.Error(t, err)

	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(verr.Errors), 2)
}
