// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gosuri/uitable"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/store"
	"github.com/AleutianAI/composer-patches/pkg/ux"
)

func (a *app) runAdd(ctx context.Context, changeIDs []string, opts addOptions) error {
	dir := opts.dir
	if dir == "" {
		dir = a.cfg.Patches.Dir
	}
	created, err := a.manager.AddPatches(ctx, changeIDs, dir, opts.includeTests)
	if err != nil {
		return err
	}
	ux.Summary(created, "created")
	if created > 0 {
		ux.Hint("Run `composer install` to apply the new patches.")
	}
	return nil
}

func (a *app) runRemove(ctx context.Context, changeIDs []string, opts removeOptions) error {
	removed, err := a.manager.RemovePatches(ctx, changeIDs, opts.skipUninstall)
	if err != nil {
		return err
	}
	ux.Summary(removed, "removed")
	return nil
}

func (a *app) runUpdate(ctx context.Context, changeIDs []string) error {
	created, err := a.manager.UpdatePatches(ctx, changeIDs)
	if err != nil {
		return err
	}
	ux.Summary(created, "refreshed")
	return nil
}

// runVerify removes the patches the operator confirmed as obsolete.
func (a *app) runVerify(ctx context.Context, packages []string) error {
	obsolete, err := a.manager.VerifyInstalled(ctx, packages)
	if err != nil {
		return err
	}
	if len(obsolete) == 0 {
		ux.Success("No obsolete patches found")
		return nil
	}
	ids := make([]string, len(obsolete))
	for i, id := range obsolete {
		ids[i] = strconv.Itoa(id)
	}
	removed, err := a.manager.RemovePatches(ctx, ids, false)
	if err != nil {
		return err
	}
	ux.Summary(removed, "removed")
	return nil
}

func (a *app) runRelock(ctx context.Context, out io.Writer) error {
	if err := a.manager.UpdateLock(ctx, out); err != nil {
		return err
	}
	ux.Success("composer.lock updated")
	return nil
}

// runList prints the tracked changes and the patch files per package.
func (a *app) runList(out io.Writer) error {
	state, err := a.doc.Load()
	if err != nil {
		return err
	}
	if state.Changes.Len() == 0 && state.Patches.IsEmpty() {
		ux.Info("No tracked changes in " + a.doc.Path())
		return nil
	}

	changes := uitable.New()
	changes.MaxColWidth = 60
	changes.Wrap = true
	changes.AddRow("CHANGE", "PACKAGES", "TESTS", "DIRECTORY", "REVISION")
	for _, ch := range state.Changes.All() {
		changes.AddRow(ch.ID, strings.Join(ch.Packages, ", "), ch.IncludeTests, ch.PatchDir, revisionLabel(ch.Revision))
	}
	fmt.Fprintln(out, changes)

	if state.Patches.IsEmpty() {
		return nil
	}
	files := uitable.New()
	files.MaxColWidth = 80
	files.AddRow("PACKAGE", "PATCH")
	for _, pkg := range state.Patches.Packages() {
		for _, ref := range state.Patches.Refs(pkg) {
			files.AddRow(pkg, ref)
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, files)
	return nil
}

func revisionLabel(rev int) string {
	if rev == store.LatestRevision {
		return "latest"
	}
	return strconv.Itoa(rev)
}
