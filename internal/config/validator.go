// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateTmux(cfg, errs)
	v.validateLogs(cfg, errs)
	v.validateResume(cfg, errs)
	v.validateRemote(cfg, errs)
	v.validateEvents(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs.Add("server.port", fmt.Sprintf("must be 1-65535, got %d", cfg.Server.Port))
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs.Add("server.tls_cert", "tls_cert and tls_key must be set together")
	}
}

func (v *Validator) validateTmux(cfg *Config, errs *ValidationError) {
	if cfg.Tmux.Session == "" {
		errs.Add("tmux.session", "must not be empty")
	}
	if strings.ContainsAny(cfg.Tmux.Session, ":. ") {
		errs.Add("tmux.session", "must not contain ':', '.' or spaces")
	}
	switch cfg.Tmux.TerminalMode {
	case ModeAuto, ModePTY, ModePipePane:
	default:
		errs.Add("tmux.terminal_mode", fmt.Sprintf("must be auto, pty, or pipe-pane, got %q", cfg.Tmux.TerminalMode))
	}
	if cfg.Tmux.RefreshIntervalMs < 100 {
		errs.Add("tmux.refresh_interval_ms", "must be at least 100")
	}
}

func (v *Validator) validateLogs(cfg *Config, errs *ValidationError) {
	if cfg.Logs.PollIntervalMs < 100 {
		errs.Add("logs.poll_interval_ms", "must be at least 100")
	}
	if cfg.Logs.PollMax < 1 {
		errs.Add("logs.poll_max", "must be at least 1")
	}
	if cfg.Logs.RGThreads < 0 {
		errs.Add("logs.rg_threads", "must not be negative")
	}
}

func (v *Validator) validateResume(cfg *Config, errs *ValidationError) {
	if !strings.Contains(cfg.Resume.ClaudeCmd, "{sessionId}") {
		errs.Add("resume.claude_cmd", "must contain {sessionId}")
	}
	if !strings.Contains(cfg.Resume.CodexCmd, "{sessionId}") {
		errs.Add("resume.codex_cmd", "must contain {sessionId}")
	}
}

func (v *Validator) validateRemote(cfg *Config, errs *ValidationError) {
	for i, host := range cfg.Remote.Hosts {
		if strings.TrimSpace(host) == "" {
			errs.Add(fmt.Sprintf("remote.hosts[%d]", i), "must not be empty")
		}
	}
	if cfg.Remote.TimeoutMs < 1000 {
		errs.Add("remote.timeout_ms", "must be at least 1000")
	}
	if cfg.Remote.StaleMs < cfg.Remote.PollMs {
		errs.Add("remote.stale_ms", "must be at least remote.poll_ms, or probes always read stale")
	}
}

func (v *Validator) validateEvents(cfg *Config, errs *ValidationError) {
	if cfg.Events.HistoryMaxAge != "" {
		if _, err := time.ParseDuration(cfg.Events.HistoryMaxAge); err != nil {
			errs.Add("events.history_max_age", fmt.Sprintf("invalid duration: %v", err))
		}
	}
}
