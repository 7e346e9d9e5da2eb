// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/gerrit"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/installer"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/patches"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/prompt"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/store"
	"github.com/AleutianAI/composer-patches/pkg/ux"
)

const docPath = "/project/composer.json"

func TestMain(m *testing.M) {
	ux.SetOutput(io.Discard)
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	os.Exit(m.Run())
}

var errService = errors.New("service unavailable")

// -----------------------------------------------------------------------------
// Review service
// -----------------------------------------------------------------------------

type fakeChange struct {
	numericID int
	subject   string
	diff      string
}

type fakeReview struct {
	changes    map[string]fakeChange
	includedIn map[int]gerrit.IncludedIn
	failPatch  map[string]bool

	mu        sync.Mutex
	revisions map[string]int
}

func newFakeReview() *fakeReview {
	return &fakeReview{
		changes:    make(map[string]fakeChange),
		includedIn: make(map[int]gerrit.IncludedIn),
		failPatch:  make(map[string]bool),
		revisions:  make(map[string]int),
	}
}

// add registers a change under its numeric id.
func (f *fakeReview) add(numericID int, subject string) {
	id := fmt.Sprint(numericID)
	f.changes[id] = fakeChange{numericID: numericID, subject: subject, diff: "diff " + id}
}

func (f *fakeReview) lookup(changeID string) (fakeChange, error) {
	ch, ok := f.changes[changeID]
	if !ok {
		return fakeChange{}, fmt.Errorf("%w: change %s", gerrit.ErrUnexpectedResponse, changeID)
	}
	return ch, nil
}

func (f *fakeReview) Subject(_ context.Context, changeID string) (string, error) {
	ch, err := f.lookup(changeID)
	return ch.subject, err
}

func (f *fakeReview) NumericID(_ context.Context, changeID string) (int, error) {
	ch, err := f.lookup(changeID)
	return ch.numericID, err
}

func (f *fakeReview) Patch(_ context.Context, changeID string, revision int) ([]byte, error) {
	ch, err := f.lookup(changeID)
	if err != nil {
		return nil, err
	}
	if f.failPatch[changeID] {
		return nil, errService
	}
	f.mu.Lock()
	f.revisions[changeID] = revision
	f.mu.Unlock()
	return []byte(ch.diff), nil
}

func (f *fakeReview) IncludedIn(_ context.Context, numericID int) (gerrit.IncludedIn, error) {
	in, ok := f.includedIn[numericID]
	if !ok {
		return gerrit.IncludedIn{}, errService
	}
	return in, nil
}

// -----------------------------------------------------------------------------
// Materializer
// -----------------------------------------------------------------------------

type createCall struct {
	numericID    int
	destination  string
	includeTests bool
}

// fakeMaterializer returns canned refs from Create and matches refs to
// changes by file name, like the real materializer.
type fakeMaterializer struct {
	results map[int]map[string][]string
	stuck   map[string]bool

	creates  []createCall
	removes  [][]int
	prepares [][]int
}

func newFakeMaterializer() *fakeMaterializer {
	return &fakeMaterializer{results: make(map[int]map[string][]string), stuck: make(map[string]bool)}
}

func (f *fakeMaterializer) Create(numericID int, _ string, _ []byte, destination string, includeTests bool) (map[string][]string, error) {
	f.creates = append(f.creates, createCall{numericID, destination, includeTests})
	refs, ok := f.results[numericID]
	if !ok {
		return nil, patches.ErrNoPatch
	}
	out := make(map[string][]string, len(refs))
	for pkg, r := range refs {
		out[pkg] = slices.Clone(r)
	}
	return out, nil
}

func (f *fakeMaterializer) match(ids []int, current *store.PatchSet) map[string][]string {
	out := make(map[string][]string)
	for _, pkg := range current.Packages() {
		for _, ref := range current.Refs(pkg) {
			for _, id := range ids {
				if f.PatchIsPartOfChange(ref, id) {
					out[pkg] = append(out[pkg], ref)
					break
				}
			}
		}
	}
	return out
}

// Remove reports refs marked stuck as undeletable and leaves them out.
func (f *fakeMaterializer) Remove(ids []int, current *store.PatchSet) (map[string][]string, error) {
	f.removes = append(f.removes, ids)
	gone := make(map[string][]string)
	var errs []error
	for pkg, refs := range f.match(ids, current) {
		for _, ref := range refs {
			if f.stuck[ref] {
				errs = append(errs, fmt.Errorf("remove %s: %w", ref, os.ErrPermission))
				continue
			}
			gone[pkg] = append(gone[pkg], ref)
		}
	}
	return gone, errors.Join(errs...)
}

func (f *fakeMaterializer) PrepareRemove(ids []int, current *store.PatchSet) (map[string][]string, error) {
	f.prepares = append(f.prepares, ids)
	return f.match(ids, current), nil
}

func (f *fakeMaterializer) PatchIsPartOfChange(ref string, numericID int) bool {
	return patches.PatchIsPartOfChange(ref, numericID)
}

// -----------------------------------------------------------------------------
// Installer
// -----------------------------------------------------------------------------

type fakeInstaller struct {
	installed []installer.Package
	listErr   error
	failing   map[string]error
	relockErr error

	mu          sync.Mutex
	uninstalled []string
	waits       int
	relocks     int
}

func newFakeInstaller(pkgs ...installer.Package) *fakeInstaller {
	return &fakeInstaller{installed: pkgs, failing: make(map[string]error)}
}

func (f *fakeInstaller) ListInstalled(context.Context) ([]installer.Package, error) {
	return slices.Clone(f.installed), f.listErr
}

func (f *fakeInstaller) Uninstall(_ context.Context, pkg installer.Package) *installer.Handle {
	return installer.Go(pkg.Name, func() error {
		time.Sleep(time.Millisecond)
		if err := f.failing[pkg.Name]; err != nil {
			return err
		}
		f.mu.Lock()
		f.uninstalled = append(f.uninstalled, pkg.Name)
		f.mu.Unlock()
		return nil
	})
}

func (f *fakeInstaller) WaitAll(handles []*installer.Handle) error {
	f.mu.Lock()
	f.waits++
	f.mu.Unlock()
	return installer.WaitAll(handles)
}

func (f *fakeInstaller) Relock(_ context.Context, out io.Writer) error {
	f.relocks++
	_, _ = io.WriteString(out, "Lock file updated\n")
	return f.relockErr
}

// uninstalledSorted returns the uninstalled packages in name order.
func (f *fakeInstaller) uninstalledSorted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.uninstalled)
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------
// Store and recorder
// -----------------------------------------------------------------------------

// countingStore counts saves on top of a real document.
type countingStore struct {
	*store.Document
	saves int
}

func (s *countingStore) Save(state *store.State) error {
	s.saves++
	return s.Document.Save(state)
}

type skipEvent struct {
	op     string
	reason string
}

type spyRecorder struct {
	mu      sync.Mutex
	skips   []skipEvent
	created map[string]int
	removed int
	ops     []string
}

func newSpyRecorder() *spyRecorder {
	return &spyRecorder{created: make(map[string]int)}
}

func (s *spyRecorder) PatchesCreated(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created[op] += n
}

func (s *spyRecorder) PatchesRemoved(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed += n
}

func (s *spyRecorder) ChangeSkipped(op, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips = append(s.skips, skipEvent{op, reason})
}

func (s *spyRecorder) ReviewRequest(string, string) {}
func (s *spyRecorder) Uninstall(string)             {}

func (s *spyRecorder) ObserveOperation(op string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

// -----------------------------------------------------------------------------
// Harness
// -----------------------------------------------------------------------------

type harness struct {
	fs       afero.Fs
	doc      *countingStore
	review   *fakeReview
	mat      *fakeMaterializer
	inst     *fakeInstaller
	prompter *prompt.MockPrompter
	recorder *spyRecorder
	manager  *Manager
}

// newHarness writes composer.json (when non-empty) and wires a Manager.
func newHarness(t *testing.T, composerJSON string, installed ...installer.Package) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	if composerJSON != "" {
		require.NoError(t, afero.WriteFile(fs, docPath, []byte(composerJSON), 0644))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		fs:       fs,
		doc:      &countingStore{Document: store.Open(fs, docPath, logger)},
		review:   newFakeReview(),
		mat:      newFakeMaterializer(),
		inst:     newFakeInstaller(installed...),
		prompter: &prompt.MockPrompter{},
		recorder: newSpyRecorder(),
	}
	m, err := New(Deps{
		Store:        h.doc,
		Review:       h.review,
		Materializer: h.mat,
		Installer:    h.inst,
		Prompter:     h.prompter,
		Logger:       logger,
		Metrics:      h.recorder,
	})
	require.NoError(t, err)
	h.manager = m
	return h
}

// state reloads composer.json.
func (h *harness) state(t *testing.T) *store.State {
	t.Helper()
	s, err := h.doc.Load()
	require.NoError(t, err)
	return s
}

// raw returns composer.json as written.
func (h *harness) raw(t *testing.T) string {
	t.Helper()
	data, err := afero.ReadFile(h.fs, docPath)
	require.NoError(t, err)
	return string(data)
}

// assertConsistent checks the cross-registry invariants.
func assertConsistent(t *testing.T, s *store.State) {
	t.Helper()
	for _, pkg := range s.Patches.Packages() {
		found := false
		for _, ch := range s.Changes.All() {
			if ch.HasPackage(pkg) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("package %s is patched but no tracked change names it", pkg)
		}
	}
	for _, ch := range s.Changes.All() {
		for _, pkg := range ch.Packages {
			if !s.Patches.Has(pkg) {
				t.Errorf("change %d names %s but it has no patch", ch.ID, pkg)
			}
		}
	}
	for _, pkg := range s.PreferredInstallChanged.List() {
		if method, ok := s.PreferredInstall.Get(pkg); !ok || method != store.MethodSource {
			t.Errorf("%s is marked as changed but preferred-install is %q", pkg, method)
		}
	}
	for pkg := range s.PreferredInstallPrevious {
		if !s.PreferredInstallChanged.Has(pkg) {
			t.Errorf("%s has a previous method but no active override", pkg)
		}
	}
}
