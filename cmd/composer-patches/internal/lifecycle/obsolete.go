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
	"fmt"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/installer"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/versions"
	"github.com/AleutianAI/composer-patches/pkg/ux"
)

// VerifyPatchesForPackage returns the tracked changes that pkg's installed
// version already contains and that the operator agreed to drop.
//
// # Description
//
// For each tracked change patching pkg (ascending id), the review server is
// asked which tags and branches contain it. The version is matched against
// the tags first (caret range of the tag), then the branches (Composer's
// dev-<branch> naming). On the first match the operator is asked, default
// yes. Nothing is removed here: the caller passes the result to
// RemovePatches.
//
// # Outputs
//
//   - []int: Numeric ids of the confirmed obsolete changes.
//   - error: composer.json could not be read, or the prompt failed.
func (m *Manager) VerifyPatchesForPackage(ctx context.Context, pkg installer.Package) (obsolete []int, err error) {
	ctx, span, done := m.begin(ctx, opVerify,
		attribute.String("package", pkg.Name),
		attribute.String("version", pkg.Version),
	)
	defer func() { done(err) }()

	state, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	for _, ch := range state.Changes.All() {
		if !ch.HasPackage(pkg.Name) {
			continue
		}
		changeID := strconv.Itoa(ch.ID)

		in, err := m.review.IncludedIn(ctx, ch.ID)
		if err != nil {
			m.skip(span, opVerify, skipped(changeID, ReasonIncludedIn, err))
			continue
		}
		match, ok := versions.Find(pkg.Version, in.Tags, in.Branches)
		if !ok {
			m.logger.Debug("change not contained in installed version", "change", ch.ID, "package", pkg.Name, "version", pkg.Version)
			continue
		}
		m.logger.Info("change contained in installed version",
			"change", ch.ID, "package", pkg.Name, "version", pkg.Version, "match", match.String())
		ux.Infof("%s %s already contains change %d (%s)", pkg.Name, pkg.Version, ch.ID, match)

		confirmed, err := m.prompter.Confirm(ctx, fmt.Sprintf("Remove patch for change %d?", ch.ID), true)
		if err != nil {
			return obsolete, fmt.Errorf("confirm removal of change %d: %w", ch.ID, err)
		}
		if !confirmed {
			m.logger.Info("operator kept obsolete patch", "change", ch.ID)
			continue
		}

		refs, err := m.materializer.PrepareRemove([]int{ch.ID}, state.Patches)
		if err != nil {
			m.logger.Warn("cannot prepare removal", "change", ch.ID, "error", err)
			ux.Warningf("cannot prepare removal of change %d: %v", ch.ID, err)
			continue
		}
		m.logger.Debug("prepared removal", "change", ch.ID, "refs", refs)
		obsolete = append(obsolete, ch.ID)
	}
	return obsolete, nil
}

// VerifyInstalled runs VerifyPatchesForPackage for every installed package
// that has a patch, or only for the named packages when names is not
// empty. Returns the confirmed ids without duplicates.
func (m *Manager) VerifyInstalled(ctx context.Context, names []string) ([]int, error) {
	state, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	list, err := m.installer.ListInstalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list installed packages: %w", err)
	}

	if len(names) > 0 {
		var missing []string
		for _, name := range names {
			if !slices.ContainsFunc(list, func(p installer.Package) bool { return p.Name == name }) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			m.logger.Warn("requested packages are not installed", "packages", missing)
			ux.WarningList("Requested packages are not installed", missing)
		}
	}

	var obsolete []int
	for _, pkg := range list {
		if !state.Patches.Has(pkg.Name) {
			continue
		}
		if len(names) > 0 && !slices.Contains(names, pkg.Name) {
			continue
		}
		ids, err := m.VerifyPatchesForPackage(ctx, pkg)
		if err != nil {
			return obsolete, err
		}
		for _, id := range ids {
			if !slices.Contains(obsolete, id) {
				obsolete = append(obsolete, id)
			}
		}
	}
	return obsolete, nil
}
