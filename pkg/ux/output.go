// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux writes the informational stream of the composer-patches CLI:
// styled status lines, warnings and hints on stderr. Command results meant
// for scripts (such as the list table) go to stdout and do not pass
// through here.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

var (
	out   io.Writer = os.Stderr
	outMu sync.Mutex
)

// SetOutput redirects the informational stream and returns a function that
// restores the previous writer.
func SetOutput(w io.Writer) (restore func()) {
	outMu.Lock()
	prev := out
	out = w
	outMu.Unlock()
	return func() {
		outMu.Lock()
		out = prev
		outMu.Unlock()
	}
}

// Output returns the current informational writer.
func Output() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return out
}

func printf(format string, args ...any) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, format, args...)
}

// Print helpers that respect personality level

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	printf("%s\n", Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printf("OK: %s\n", text)
	case PersonalityMinimal:
		printf("%s %s\n", IconSuccess.Render(), text)
	default:
		printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printf("WARN: %s\n", text)
	case PersonalityMinimal:
		printf("%s %s\n", IconWarning.Render(), text)
	default:
		printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Warningf formats and prints a warning.
func Warningf(format string, args ...any) {
	Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printf("ERROR: %s\n", text)
	case PersonalityMinimal:
		printf("%s %s\n", IconError.Render(), text)
	default:
		printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		printf("%s\n", text)
	default:
		printf("%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Infof formats and prints an informational message.
func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}

// Muted prints muted/secondary text
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	printf("%s\n", Styles.Muted.Render(text))
}

// Hint prints a follow-up suggestion when hints are enabled.
func Hint(text string) {
	p := GetPersonality()
	if !p.ShowHints || p.Level == PersonalityMachine {
		return
	}
	printf("%s %s\n", IconArrow.Render(), Styles.Muted.Render(text))
}

// WarningList prints one warning naming every item, e.g. the packages that
// were patched but are not installed.
func WarningList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	if GetPersonality().Level == PersonalityMachine {
		printf("WARN: %s: %s\n", title, strings.Join(items, ", "))
		return
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s %s", IconBullet, item))
	}
	WarningBox(title, strings.Join(lines, "\n"))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printf("%s: %s\n", title, content)
		return
	}
	titleLine := Styles.Title.Render(title)
	printf("%s\n", Styles.Box.Width(60).Render(titleLine+"\n"+content))
}

// WarningBox prints text in a warning-styled box
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		printf("WARN %s: %s\n", title, content)
		return
	}
	titleLine := Styles.Warning.Bold(true).Render(title)
	printf("%s\n", Styles.WarningBox.Width(60).Render(titleLine+"\n"+content))
}

// Summary prints the result line of an operation, e.g. "3 patches created".
func Summary(count int, verb string) {
	noun := "patches"
	if count == 1 {
		noun = "patch"
	}
	switch GetPersonality().Level {
	case PersonalityMachine:
		printf("SUMMARY: %s=%d\n", verb, count)
	default:
		printf("\n%s %s\n",
			Styles.Bold.Render(fmt.Sprintf("%d", count)),
			Styles.Muted.Render(noun+" "+verb),
		)
	}
}
