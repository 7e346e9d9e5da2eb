// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/util"
)

// Command describes one external command invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// String returns the command line as typed by a user.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes external commands.
type Runner interface {
	// Stream runs the command, copying stdout and stderr to out. A non-zero
	// exit returns *util.CommandError with the exit code and captured stderr.
	Stream(ctx context.Context, cmd Command, out io.Writer) error
}

// DefaultRunner runs commands with os/exec.
type DefaultRunner struct{}

// NewDefaultRunner returns the production Runner.
func NewDefaultRunner() *DefaultRunner {
	return &DefaultRunner{}
}

// Stream implements Runner.
func (r *DefaultRunner) Stream(ctx context.Context, cmd Command, out io.Writer) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	if out == nil {
		out = io.Discard
	}

	var stderr bytes.Buffer
	c.Stdout = out
	c.Stderr = io.MultiWriter(out, &stderr)

	if err := c.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return util.NewCommandError(cmd.String(), exitCode, stderr.String(), err)
	}
	return nil
}

// MockRunner records invocations and returns StreamFunc's result.
type MockRunner struct {
	StreamFunc func(ctx context.Context, cmd Command, out io.Writer) error

	mu    sync.Mutex
	Calls []Command
}

// Stream implements Runner.
func (m *MockRunner) Stream(ctx context.Context, cmd Command, out io.Writer) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmd)
	m.mu.Unlock()
	if m.StreamFunc == nil {
		return nil
	}
	return m.StreamFunc(ctx, cmd, out)
}

var (
	_ Runner = (*DefaultRunner)(nil)
	_ Runner = (*MockRunner)(nil)
)
