// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"io"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/gerrit"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/installer"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/store"
)

// Store loads and saves the registries. *store.Document implements it.
type Store interface {
	Load() (*store.State, error)
	Save(state *store.State) error
}

// ReviewService resolves changes on the review server. *gerrit.Client
// implements it.
type ReviewService interface {
	Subject(ctx context.Context, changeID string) (string, error)
	NumericID(ctx context.Context, changeID string) (int, error)

	// Patch returns the change's diff at revision (store.LatestRevision for
	// the current one).
	Patch(ctx context.Context, changeID string, revision int) ([]byte, error)

	IncludedIn(ctx context.Context, numericID int) (gerrit.IncludedIn, error)
}

// Materializer turns diffs into patch files and maps files back to
// changes. *patches.Materializer implements it.
type Materializer interface {
	// Create writes the patch files and returns package -> refs. Returns
	// patches.ErrNoPatch when nothing applicable was produced.
	Create(numericID int, subject string, diff []byte, destination string, includeTests bool) (map[string][]string, error)

	// Remove deletes the files of the given changes and returns the refs
	// to drop from the registry.
	Remove(ids []int, current *store.PatchSet) (map[string][]string, error)

	// PrepareRemove is Remove without touching the filesystem.
	PrepareRemove(ids []int, current *store.PatchSet) (map[string][]string, error)

	PatchIsPartOfChange(ref string, numericID int) bool
}

// Installer is the installation collaborator. *installer.Installer
// implements it.
type Installer interface {
	ListInstalled(ctx context.Context) ([]installer.Package, error)
	Uninstall(ctx context.Context, pkg installer.Package) *installer.Handle
	WaitAll(handles []*installer.Handle) error
	Relock(ctx context.Context, out io.Writer) error
}
