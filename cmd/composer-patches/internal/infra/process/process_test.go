// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/util"
)

// -----------------------------------------------------------------------------
// ProcessLock
// -----------------------------------------------------------------------------

func TestLockConfigFor(t *testing.T) {
	cfg := LockConfigFor("/srv/site/composer.json")
	if cfg.LockDir != "/srv/site" {
		t.Errorf("LockDir = %q, want /srv/site", cfg.LockDir)
	}
	lock := NewProcessLock(cfg)
	if lock.LockPath() != "/srv/site/.composer-patches.lock" {
		t.Errorf("LockPath = %q", lock.LockPath())
	}
}

func TestNewProcessLock_Defaults(t *testing.T) {
	lock := NewProcessLock(LockConfig{})
	want := filepath.Join(os.TempDir(), "composer-patches.lock")
	if lock.LockPath() != want {
		t.Errorf("LockPath = %q, want %q", lock.LockPath(), want)
	}
}

func TestProcessLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := NewProcessLock(LockConfig{LockDir: dir, LockName: "test"})

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if !lock.IsHeld() {
		t.Error("IsHeld() = false after Acquire")
	}
	if err := lock.Acquire(); err != nil {
		t.Errorf("re-Acquire() should be a no-op, got %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "test.pid"))
	if err != nil {
		t.Fatalf("pid file missing: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Error("pid file is empty")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if lock.IsHeld() {
		t.Error("IsHeld() = true after Release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release() error: %v", err)
	}
}

func TestProcessLock_Contention(t *testing.T) {
	dir := t.TempDir()
	first := NewProcessLock(LockConfig{LockDir: dir, LockName: "doc"})
	second := NewProcessLock(LockConfig{LockDir: dir, LockName: "doc"})

	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	defer first.Release()

	err := second.Acquire()
	var held *ErrLockHeld
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() = %v, want *ErrLockHeld", err)
	}
	if held.HolderPID != os.Getpid() {
		t.Errorf("HolderPID = %d, want %d", held.HolderPID, os.Getpid())
	}
	if !strings.Contains(held.Error(), "another composer-patches instance") {
		t.Errorf("unexpected message: %q", held.Error())
	}

	if err := first.Release(); err != nil {
		t.Fatal(err)
	}
	if err := second.Acquire(); err != nil {
		t.Errorf("Acquire after release should succeed: %v", err)
	}
	second.Release()
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

func TestCommand_String(t *testing.T) {
	cmd := Command{Name: "composer", Args: []string{"update", "--lock"}}
	if cmd.String() != "composer update --lock" {
		t.Errorf("String() = %q", cmd.String())
	}
}

func TestDefaultRunner_Success(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var out bytes.Buffer
	err := NewDefaultRunner().Stream(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hello"}}, &out)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if !strings.Contains(out.String(), "hello") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDefaultRunner_ExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var out bytes.Buffer
	err := NewDefaultRunner().Stream(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo nope >&2; exit 3"}}, &out)

	var cmdErr *util.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Stream() = %v, want *util.CommandError", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", cmdErr.ExitCode)
	}
	if cmdErr.Stderr != "nope" {
		t.Errorf("Stderr = %q, want nope", cmdErr.Stderr)
	}
}

func TestDefaultRunner_MissingBinary(t *testing.T) {
	err := NewDefaultRunner().Stream(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"}, nil)
	var cmdErr *util.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Stream() = %v, want *util.CommandError", err)
	}
	if cmdErr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", cmdErr.ExitCode)
	}
}

func TestMockRunner_RecordsCalls(t *testing.T) {
	m := &MockRunner{}
	_ = m.Stream(context.Background(), Command{Name: "composer"}, nil)
	if len(m.Calls) != 1 || m.Calls[0].Name != "composer" {
		t.Errorf("Calls = %+v", m.Calls)
	}
}
