// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"testing"
	"time"
)

func waitCompleted(t *testing.T, spin *Spinner, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for spin.Completed() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d completed, got %d", want, spin.Completed())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSpinner_MachineMode_PrintsNothing(t *testing.T) {
	withLevel(t, PersonalityMachine)
	buf := captureOutput(t)

	spin := NewSpinner("Uninstalling packages", 1)
	spin.Start()
	spin.Stop()

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	spin := NewSpinner("x", 0)
	spin.Stop()
	spin.Stop()
}

func TestSpinner_StartTwice(t *testing.T) {
	withLevel(t, PersonalityMachine)
	captureOutput(t)

	spin := NewSpinner("x", 0)
	spin.Start()
	spin.Start()
	spin.Stop()
}

func TestSpinner_CountsWatchedJobs(t *testing.T) {
	withLevel(t, PersonalityMachine)
	captureOutput(t)

	first, second := make(chan struct{}), make(chan struct{})
	spin := NewSpinner("Uninstalling packages", 2)
	spin.Start()
	spin.Watch(first)
	spin.Watch(second)

	close(first)
	waitCompleted(t, spin, 1)
	close(second)
	waitCompleted(t, spin, 2)
	spin.Stop()
}

func TestSpinner_StopReleasesPendingWatchers(t *testing.T) {
	spin := NewSpinner("x", 1)
	spin.Start()
	spin.Watch(make(chan struct{}))

	done := make(chan struct{})
	go func() {
		spin.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a job that never finished")
	}
	if spin.Completed() != 0 {
		t.Errorf("expected 0 completed, got %d", spin.Completed())
	}
}

func TestSpinner_FullMode_DrawsProgress(t *testing.T) {
	withLevel(t, PersonalityFull)
	buf := captureOutput(t)

	done := make(chan struct{})
	close(done)
	spin := NewSpinner("Uninstalling packages", 1)
	spin.Watch(done)
	waitCompleted(t, spin, 1)
	spin.Start()
	time.Sleep(200 * time.Millisecond)
	spin.Stop()

	if !strings.Contains(buf.String(), "Uninstalling packages (1/1)") {
		t.Errorf("expected progress line, got %q", buf.String())
	}
	if !strings.HasSuffix(buf.String(), "\r\033[K") {
		t.Error("expected line to be cleared on stop")
	}
}
