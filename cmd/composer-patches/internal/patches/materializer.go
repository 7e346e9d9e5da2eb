// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patches turns a review change's diff into per-package patch files
// and maps patch file references back to the change they came from.
package patches

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sourcegraph/go-diff/diff"
	"github.com/spf13/afero"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/store"
)

// ErrNoPatch is returned by Create when the diff touches no package file
// that survives filtering.
var ErrNoPatch = errors.New("no patch produced")

// DefaultTestGlobs match test sources relative to a package root.
var DefaultTestGlobs = []string{"**/tests/**", "**/test/**", "**/*Test.php"}

// Config configures a Materializer.
type Config struct {
	// Root is the project directory. Destinations and refs are relative to it.
	Root string

	// TestGlobs select test files dropped unless tests are included.
	// Empty means DefaultTestGlobs.
	TestGlobs []string
}

// Materializer writes patch files.
//
// The diff is expected against a vendor-style tree: the first two path
// segments of each file are the Composer package name (vendor/name/...).
// Every package touched gets one file named
// <destination>/<numericID>-<vendor>-<name>.patch whose paths are relative
// to the package root, so the patch applies inside the installed package.
type Materializer struct {
	fs        afero.Fs
	root      string
	testGlobs []string
	logger    *slog.Logger
}

// New returns a Materializer. A nil logger uses slog.Default.
func New(fs afero.Fs, cfg Config, logger *slog.Logger) (*Materializer, error) {
	globs := cfg.TestGlobs
	if len(globs) == 0 {
		globs = DefaultTestGlobs
	}
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid test glob %q", g)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{fs: fs, root: cfg.Root, testGlobs: globs, logger: logger}, nil
}

// packageDiff collects the file diffs of one package.
type packageDiff struct {
	name  string
	files []*diff.FileDiff
}

// Create splits raw into one patch file per package and returns
// package -> refs.
//
// # Description
//
// Mail headers and the trailing signature that Gerrit's patch endpoint
// emits around the diff are discarded. Files outside a vendor/name tree are
// ignored, and test files are dropped unless includeTests. Writing the same
// change twice overwrites its files and returns the same refs.
//
// # Outputs
//
//   - map[string][]string: package -> refs, each ref relative to Root.
//   - error: ErrNoPatch when nothing applicable remains, a parse error, or
//     an I/O error.
func (m *Materializer) Create(numericID int, subject string, raw []byte, destination string, includeTests bool) (map[string][]string, error) {
	body := extractDiff(raw)
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrNoPatch
	}
	fileDiffs, err := diff.ParseMultiFileDiff(body)
	if err != nil {
		return nil, fmt.Errorf("parse diff of change %d: %w", numericID, err)
	}

	var ordered []*packageDiff
	byName := make(map[string]*packageDiff)
	for _, fd := range fileDiffs {
		pkg, rel, ok := splitPackagePath(fileDiffPath(fd))
		if !ok {
			m.logger.Debug("skipping file outside a package", "change", numericID, "file", fileDiffPath(fd))
			continue
		}
		if !includeTests && m.isTestFile(rel) {
			m.logger.Debug("skipping test file", "change", numericID, "package", pkg, "file", rel)
			continue
		}
		pd, ok := byName[pkg]
		if !ok {
			pd = &packageDiff{name: pkg}
			byName[pkg] = pd
			ordered = append(ordered, pd)
		}
		pd.files = append(pd.files, relativize(fd, pkg))
	}
	if len(ordered) == 0 {
		return nil, ErrNoPatch
	}

	dir := filepath.Join(m.root, destination)
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create patch directory %s: %w", dir, err)
	}

	created := make(map[string][]string, len(ordered))
	for _, pd := range ordered {
		content, err := diff.PrintMultiFileDiff(pd.files)
		if err != nil {
			return nil, fmt.Errorf("render patch for %s: %w", pd.name, err)
		}
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "Subject: %s\n\n", strings.TrimSpace(subject))
		buf.Write(content)

		name := FileName(numericID, pd.name)
		if err := afero.WriteFile(m.fs, filepath.Join(dir, name), buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("write patch %s: %w", name, err)
		}
		created[pd.name] = []string{path.Join(filepath.ToSlash(destination), name)}
	}
	return created, nil
}

// PrepareRemove returns, per package, the refs in patches that belong to
// any of ids. Nothing is modified.
func (m *Materializer) PrepareRemove(ids []int, patches *store.PatchSet) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, pkg := range patches.Packages() {
		for _, ref := range patches.Refs(pkg) {
			for _, id := range ids {
				if m.PatchIsPartOfChange(ref, id) {
					out[pkg] = append(out[pkg], ref)
					break
				}
			}
		}
	}
	return out, nil
}

// Remove deletes the patch files belonging to ids and returns, per package,
// the refs whose files are gone. A file already missing counts as gone.
// Refs whose file could not be deleted are left out of the result and
// reported in the joined error.
func (m *Materializer) Remove(ids []int, patches *store.PatchSet) (map[string][]string, error) {
	refs, err := m.PrepareRemove(ids, patches)
	if err != nil {
		return nil, err
	}
	gone := make(map[string][]string, len(refs))
	var errs []error
	for _, pkg := range slices.Sorted(maps.Keys(refs)) {
		for _, ref := range refs[pkg] {
			p := filepath.Join(m.root, filepath.FromSlash(ref))
			if err := m.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", ref, err))
				continue
			}
			gone[pkg] = append(gone[pkg], ref)
		}
	}
	return gone, errors.Join(errs...)
}

// PatchIsPartOfChange reports whether ref was produced for numericID.
func (m *Materializer) PatchIsPartOfChange(ref string, numericID int) bool {
	return PatchIsPartOfChange(ref, numericID)
}

// PatchIsPartOfChange reports whether ref's file name carries numericID:
// "<id>-<vendor>-<name>.patch" or "<id>.patch".
func PatchIsPartOfChange(ref string, numericID int) bool {
	base := path.Base(filepath.ToSlash(ref))
	id := strconv.Itoa(numericID)
	return strings.HasPrefix(base, id+"-") || base == id+".patch"
}

// FileName returns the patch file name for a change and package.
func FileName(numericID int, pkg string) string {
	return fmt.Sprintf("%d-%s.patch", numericID, strings.ReplaceAll(pkg, "/", "-"))
}

func (m *Materializer) isTestFile(rel string) bool {
	for _, g := range m.testGlobs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}
