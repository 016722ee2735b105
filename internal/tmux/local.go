// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tmux

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// LocalRunner executes tmux on the local host.
type LocalRunner struct{}

// NewLocalRunner creates a runner that shells out to the tmux binary.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

func (r *LocalRunner) Host() string { return "" }

func (r *LocalRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, "", args)
}

func (r *LocalRunner) RunStdin(ctx context.Context, stdin string, args ...string) (string, error) {
	return r.run(ctx, stdin, args)
}

func (r *LocalRunner) run(ctx context.Context, stdin string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	// Never let a nested TMUX variable redirect commands to the wrong server
	cmd.Env = filterTMUXEnv(os.Environ())
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return "", &ExecError{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   truncateStderr(stderr.String()),
			Err:      ctx.Err(),
		}
	}
	return stdout.String(), nil
}

// filterTMUXEnv strips the TMUX variable so tmux commands run from inside a
// tmux session still target the default server socket.
func filterTMUXEnv(env []string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "TMUX=") {
			result = append(result, e)
		}
	}
	return result
}
