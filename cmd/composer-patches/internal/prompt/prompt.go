// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package prompt asks the operator yes/no questions.

Four implementations share the Prompter interface:

  - FormPrompter renders a huh confirm field on a terminal.
  - LinePrompter reads "y"/"n" lines, for piped stdin.
  - AutoApprovePrompter answers yes to everything (--yes).
  - NonInteractivePrompter takes each question's default (--no-interaction).

New picks one from Options.
*/
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/composer-patches/pkg/ux"
)

// ErrAborted is returned when the operator aborts a form (Ctrl+C).
var ErrAborted = errors.New("prompt aborted by operator")

// Prompter asks yes/no questions.
type Prompter interface {
	// Confirm asks prompt and returns the answer. defaultYes is the answer
	// for an empty response.
	Confirm(ctx context.Context, prompt string, defaultYes bool) (bool, error)

	// IsInteractive reports whether a human is asked.
	IsInteractive() bool
}

// Options selects a Prompter.
type Options struct {
	// AssumeYes answers every question with yes.
	AssumeYes bool

	// NoInteraction answers every question with its default.
	NoInteraction bool

	In  *os.File
	Out io.Writer
}

// New returns the Prompter for opts. A terminal on In gets a FormPrompter,
// anything else a LinePrompter.
func New(opts Options) Prompter {
	switch {
	case opts.AssumeYes:
		return NewAutoApprovePrompter()
	case opts.NoInteraction:
		return NewNonInteractivePrompter()
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	if ux.IsTerminal(opts.In) {
		return NewFormPrompter(opts.In, opts.Out)
	}
	return NewLinePrompterWithIO(opts.In, opts.Out)
}

func hint(defaultYes bool) string {
	if defaultYes {
		return "[Y/n]"
	}
	return "[y/N]"
}

// -----------------------------------------------------------------------------
// FormPrompter
// -----------------------------------------------------------------------------

// FormPrompter asks with a huh confirm field.
type FormPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewFormPrompter returns a FormPrompter reading in and drawing on out.
func NewFormPrompter(in io.Reader, out io.Writer) *FormPrompter {
	return &FormPrompter{in: in, out: out}
}

// Confirm implements Prompter.
func (p *FormPrompter) Confirm(ctx context.Context, prompt string, defaultYes bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	answer := defaultYes
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Yes").
			Negative("No").
			Value(&answer),
	)).
		WithInput(p.in).
		WithOutput(p.out).
		WithShowHelp(false).
		WithAccessible(ux.GetPersonality().Level == ux.PersonalityMinimal)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrAborted
		}
		return false, fmt.Errorf("confirm %q: %w", prompt, err)
	}
	return answer, nil
}

// IsInteractive implements Prompter.
func (p *FormPrompter) IsInteractive() bool { return true }

// -----------------------------------------------------------------------------
// LinePrompter
// -----------------------------------------------------------------------------

// LinePrompter writes the question and reads one line per answer. End of
// input counts as "no".
type LinePrompter struct {
	mu     sync.Mutex
	reader *bufio.Reader
	out    io.Writer
}

// NewLinePrompterWithIO returns a LinePrompter over in and out.
func NewLinePrompterWithIO(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{reader: bufio.NewReader(in), out: out}
}

type lineResult struct {
	line string
	err  error
}

// Confirm implements Prompter.
func (p *LinePrompter) Confirm(ctx context.Context, prompt string, defaultYes bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s %s ", prompt, hint(defaultYes))

	ch := make(chan lineResult, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	var res lineResult
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res = <-ch:
	}

	answer := strings.ToLower(strings.TrimSpace(res.line))
	if res.err != nil && answer == "" {
		if errors.Is(res.err, io.EOF) {
			fmt.Fprintln(p.out)
			return false, nil
		}
		return false, fmt.Errorf("read answer: %w", res.err)
	}

	switch answer {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// IsInteractive implements Prompter.
func (p *LinePrompter) IsInteractive() bool { return true }

// -----------------------------------------------------------------------------
// Fixed answers
// -----------------------------------------------------------------------------

// AutoApprovePrompter answers yes without asking.
type AutoApprovePrompter struct{}

// NewAutoApprovePrompter returns an AutoApprovePrompter.
func NewAutoApprovePrompter() *AutoApprovePrompter { return &AutoApprovePrompter{} }

// Confirm implements Prompter.
func (AutoApprovePrompter) Confirm(ctx context.Context, _ string, _ bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

// IsInteractive implements Prompter.
func (AutoApprovePrompter) IsInteractive() bool { return false }

// NonInteractivePrompter answers every question with its default.
type NonInteractivePrompter struct{}

// NewNonInteractivePrompter returns a NonInteractivePrompter.
func NewNonInteractivePrompter() *NonInteractivePrompter { return &NonInteractivePrompter{} }

// Confirm implements Prompter.
func (NonInteractivePrompter) Confirm(ctx context.Context, _ string, defaultYes bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return defaultYes, nil
}

// IsInteractive implements Prompter.
func (NonInteractivePrompter) IsInteractive() bool { return false }

// -----------------------------------------------------------------------------
// MockPrompter
// -----------------------------------------------------------------------------

// PromptCall records one MockPrompter call.
type PromptCall struct {
	Prompt     string
	DefaultYes bool
}

// MockPrompter is a test double. A nil ConfirmFunc declines.
type MockPrompter struct {
	ConfirmFunc func(ctx context.Context, prompt string, defaultYes bool) (bool, error)

	mu    sync.Mutex
	Calls []PromptCall
}

// Confirm implements Prompter.
func (m *MockPrompter) Confirm(ctx context.Context, prompt string, defaultYes bool) (bool, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, PromptCall{Prompt: prompt, DefaultYes: defaultYes})
	m.mu.Unlock()
	if m.ConfirmFunc == nil {
		return false, nil
	}
	return m.ConfirmFunc(ctx, prompt, defaultYes)
}

// IsInteractive implements Prompter.
func (m *MockPrompter) IsInteractive() bool { return false }

var (
	_ Prompter = (*FormPrompter)(nil)
	_ Prompter = (*LinePrompter)(nil)
	_ Prompter = (*AutoApprovePrompter)(nil)
	_ Prompter = (*NonInteractivePrompter)(nil)
	_ Prompter = (*MockPrompter)(nil)
)
