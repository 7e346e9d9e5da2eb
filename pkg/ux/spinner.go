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
	"sync"
	"sync/atomic"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner animates "label (done/total)" on the informational stream while a
// batch of background jobs runs. Jobs are counted as their done channels
// close. Below PersonalityFull nothing is drawn.
type Spinner struct {
	label     string
	total     int
	completed atomic.Int64

	once    sync.Once
	stop    chan struct{}
	stopped chan struct{}
	watches sync.WaitGroup
}

// NewSpinner returns a spinner for total jobs. It draws nothing until Start.
func NewSpinner(label string, total int) *Spinner {
	return &Spinner{
		label:   label,
		total:   total,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Watch counts one job as complete when done closes.
func (s *Spinner) Watch(done <-chan struct{}) {
	s.watches.Add(1)
	go func() {
		defer s.watches.Done()
		select {
		case <-done:
			s.completed.Add(1)
		case <-s.stop:
		}
	}()
}

// Completed returns the number of watched jobs that have finished.
func (s *Spinner) Completed() int {
	return int(s.completed.Load())
}

// Start begins drawing. Calling it more than once has no effect.
func (s *Spinner) Start() {
	started := false
	s.once.Do(func() { started = true })
	if !started {
		return
	}
	if !ShouldShowProgress() {
		close(s.stopped)
		return
	}
	go s.draw()
}

func (s *Spinner) draw() {
	defer close(s.stopped)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for frame := 0; ; frame = (frame + 1) % len(spinnerFrames) {
		select {
		case <-s.stop:
			printf("\r\033[K")
			return
		case <-ticker.C:
			printf("\r%s %s (%d/%d)", Styles.Highlight.Render(spinnerFrames[frame]), s.label, s.Completed(), s.total)
		}
	}
}

// Stop clears the line and releases the watchers. Safe to call without
// Start and more than once.
func (s *Spinner) Stop() {
	s.once.Do(func() { close(s.stopped) })
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}
	<-s.stopped
	s.watches.Wait()
}
