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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Locker is the sole-writer guard taken around a document mutation.
type Locker interface {
	// Acquire takes the lock without blocking. Returns *ErrLockHeld when
	// another process holds it.
	Acquire() error

	// Release drops the lock. Safe to call when not held.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool
}

// LockConfig configures lock file placement.
type LockConfig struct {
	// LockDir is the directory holding the lock and pid files.
	LockDir string

	// LockName is the base name of the lock and pid files.
	LockName string
}

// LockConfigFor returns the lock configuration guarding the given
// composer.json: `.composer-patches.lock` beside it.
func LockConfigFor(documentPath string) LockConfig {
	return LockConfig{
		LockDir:  filepath.Dir(documentPath),
		LockName: ".composer-patches",
	}
}

// ProcessLock is a flock(2)-based Locker.
//
// # Thread Safety
//
// Not safe for concurrent use from multiple goroutines. The lock provides
// inter-process exclusion only.
type ProcessLock struct {
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewProcessLock creates a lock. Empty fields default to the system temp
// dir and "composer-patches".
func NewProcessLock(config LockConfig) *ProcessLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = "composer-patches"
	}
	return &ProcessLock{
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire takes the exclusive lock.
//
// # Description
//
// Opens (creating if needed) the lock file and applies a non-blocking
// exclusive flock. On contention the holder PID is read from the pid file
// and reported through *ErrLockHeld. Acquiring a lock this instance already
// holds is a no-op.
func (p *ProcessLock) Acquire() error {
	if p.held {
		return nil
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("create lock file %s: %w", p.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &ErrLockHeld{HolderPID: p.readHolderPID(), LockPath: p.lockPath}
		}
		return fmt.Errorf("acquire lock %s: %w", p.lockPath, err)
	}

	p.lockFile = f
	p.held = true

	// The pid file is informational only.
	_ = os.WriteFile(p.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
	return nil
}

// Release drops the lock and removes the pid file.
func (p *ProcessLock) Release() error {
	if !p.held || p.lockFile == nil {
		return nil
	}

	_ = os.Remove(p.pidPath)
	err := unix.Flock(int(p.lockFile.Fd()), unix.LOCK_UN)
	p.lockFile.Close()
	p.lockFile = nil
	p.held = false

	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// IsHeld reports whether this instance holds the lock.
func (p *ProcessLock) IsHeld() bool {
	return p.held
}

// LockPath returns the lock file path.
func (p *ProcessLock) LockPath() string {
	return p.lockPath
}

func (p *ProcessLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// ErrLockHeld reports that another composer-patches process is writing
// the same document.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another composer-patches instance is running (PID %d); if stale, remove %s", e.HolderPID, e.LockPath)
	}
	return fmt.Sprintf("another composer-patches instance is running (check: lsof %s)", e.LockPath)
}

var _ Locker = (*ProcessLock)(nil)
