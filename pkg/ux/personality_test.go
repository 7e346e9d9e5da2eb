// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"testing"
)

// =============================================================================
// GetPersonality / SetPersonality Tests
// =============================================================================

func TestSetPersonality_AndGet(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityMinimal, ShowHints: false})

	got := GetPersonality()
	if got.Level != PersonalityMinimal {
		t.Errorf("expected level %v, got %v", PersonalityMinimal, got.Level)
	}
	if got.ShowHints {
		t.Error("expected ShowHints false")
	}
}

func TestSetPersonalityLevel_KeepsOtherFields(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityFull, ShowHints: true})
	SetPersonalityLevel(PersonalityMachine)

	got := GetPersonality()
	if got.Level != PersonalityMachine {
		t.Errorf("expected machine, got %v", got.Level)
	}
	if !got.ShowHints {
		t.Error("SetPersonalityLevel should not touch ShowHints")
	}
}

// =============================================================================
// ParsePersonalityLevel Tests
// =============================================================================

func TestParsePersonalityLevel(t *testing.T) {
	tests := []struct {
		input string
		want  PersonalityLevel
	}{
		{"full", PersonalityFull},
		{"F", PersonalityFull},
		{"standard", PersonalityStandard},
		{"std", PersonalityStandard},
		{"minimal", PersonalityMinimal},
		{"min", PersonalityMinimal},
		{"machine", PersonalityMachine},
		{"quiet", PersonalityMachine},
		{" q ", PersonalityMachine},
		{"", PersonalityStandard},
		{"nonsense", PersonalityStandard},
	}
	for _, tt := range tests {
		if got := ParsePersonalityLevel(tt.input); got != tt.want {
			t.Errorf("ParsePersonalityLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// =============================================================================
// InitPersonality Tests
// =============================================================================

func TestInitPersonality_FlagWins(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	t.Setenv(EnvPersonality, "full")

	InitPersonality("minimal")
	if GetPersonality().Level != PersonalityMinimal {
		t.Errorf("expected flag to win, got %v", GetPersonality().Level)
	}
}

func TestInitPersonality_FromEnv(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)
	t.Setenv(EnvPersonality, "machine")

	InitPersonality("")
	if GetPersonality().Level != PersonalityMachine {
		t.Errorf("expected machine from env, got %v", GetPersonality().Level)
	}
}

func TestInitPersonality_NonTerminalIsMachine(t *testing.T) {
	if IsTerminal(os.Stderr) {
		t.Skip("stderr is a terminal")
	}
	orig := GetPersonality()
	defer SetPersonality(orig)
	t.Setenv(EnvPersonality, "")

	InitPersonality("")
	if GetPersonality().Level != PersonalityMachine {
		t.Errorf("expected machine when stderr is not a terminal, got %v", GetPersonality().Level)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestIsTerminal_Nil(t *testing.T) {
	if IsTerminal(nil) {
		t.Error("nil file is not a terminal")
	}
}

func TestIsTerminal_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "tty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Error("regular file reported as terminal")
	}
}

func TestShouldShow(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	tests := []struct {
		level    PersonalityLevel
		progress bool
		colors   bool
	}{
		{PersonalityFull, true, true},
		{PersonalityStandard, false, true},
		{PersonalityMinimal, false, true},
		{PersonalityMachine, false, false},
	}
	for _, tt := range tests {
		SetPersonalityLevel(tt.level)
		if got := ShouldShowProgress(); got != tt.progress {
			t.Errorf("%v: ShouldShowProgress() = %v, want %v", tt.level, got, tt.progress)
		}
		if got := ShouldShowColors(); got != tt.colors {
			t.Errorf("%v: ShouldShowColors() = %v, want %v", tt.level, got, tt.colors)
		}
	}
}

func TestIsInteractive_MachineNever(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)
	if IsInteractive() {
		t.Error("machine mode must never be interactive")
	}
}

func TestDefaultPersonality(t *testing.T) {
	p := DefaultPersonality()
	if p.Level != PersonalityStandard || !p.ShowHints {
		t.Errorf("unexpected default %+v", p)
	}
}
