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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/installer"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/metrics"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/patches"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/prompt"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/store"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/telemetry"
	"github.com/AleutianAI/composer-patches/pkg/ux"
)

const tracerName = "composer-patches/lifecycle"

// Operation names, used as span suffixes and metric labels.
const (
	opAdd    = "add"
	opRemove = "remove"
	opUpdate = "update"
	opVerify = "verify"
	opRelock = "relock"
)

// ErrMissingDependency is returned by New when a required collaborator is
// nil.
var ErrMissingDependency = errors.New("lifecycle: missing dependency")

// Deps are the Manager's collaborators. Store, Review, Materializer and
// Installer are required.
type Deps struct {
	Store        Store
	Review       ReviewService
	Materializer Materializer
	Installer    Installer

	// Prompter defaults to answering every question with its default.
	Prompter prompt.Prompter

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Manager runs the patch lifecycle operations against one composer.json.
type Manager struct {
	store        Store
	review       ReviewService
	materializer Materializer
	installer    Installer
	prompter     prompt.Prompter
	logger       *slog.Logger
	metrics      metrics.Recorder
}

// New returns a Manager.
func New(deps Deps) (*Manager, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Review == nil:
		return nil, fmt.Errorf("%w: review service", ErrMissingDependency)
	case deps.Materializer == nil:
		return nil, fmt.Errorf("%w: materializer", ErrMissingDependency)
	case deps.Installer == nil:
		return nil, fmt.Errorf("%w: installer", ErrMissingDependency)
	}
	if deps.Prompter == nil {
		deps.Prompter = prompt.NewNonInteractivePrompter()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoOp{}
	}
	return &Manager{
		store:        deps.Store,
		review:       deps.Review,
		materializer: deps.Materializer,
		installer:    deps.Installer,
		prompter:     deps.Prompter,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
	}, nil
}

// AddPatches fetches each change, writes its patch files and records them.
//
// # Description
//
// Changes are processed in order and composer.json is saved after each one
// that produced patches. A change that cannot be resolved, fetched or
// materialized is skipped with a warning. When includeTests is set and at
// least one patch was created, every affected installed package is switched
// to source installs and uninstalled so the next `composer install`
// re-fetches it with its tests.
//
// # Outputs
//
//   - int: Number of patch files created.
//   - error: Only when composer.json cannot be read or written.
func (m *Manager) AddPatches(ctx context.Context, changeIDs []string, destination string, includeTests bool) (created int, err error) {
	ctx, span, done := m.begin(ctx, opAdd,
		attribute.StringSlice("changes", changeIDs),
		attribute.String("destination", destination),
		attribute.Bool("include_tests", includeTests),
	)
	defer func() { done(err) }()

	state, err := m.store.Load()
	if err != nil {
		return 0, err
	}

	var affected []string
	for _, changeID := range changeIDs {
		out := m.apply(ctx, state, changeID, store.LatestRevision, destination, includeTests)
		if !out.Applied {
			m.skip(span, opAdd, out)
			continue
		}
		if err := m.store.Save(state); err != nil {
			return created, err
		}
		created += out.Created()
		for _, pkg := range out.Packages() {
			if !slices.Contains(affected, pkg) {
				affected = append(affected, pkg)
			}
		}
	}
	m.metrics.PatchesCreated(opAdd, created)

	if includeTests && created > 0 {
		if err := m.preferSource(ctx, state, affected); err != nil {
			return created, err
		}
	}
	return created, nil
}

// RemovePatches deletes the patch files of tracked changes.
//
// # Description
//
// Ids that cannot be resolved, or that this tool is not tracking, are
// skipped with a warning. The files of the remaining changes are deleted
// and dropped from the registry. A package left without patches gets its
// preferred-install override reverted, but only if this tool set it.
// Unless skipUninstall is set, every package that lost a patch is
// uninstalled. The changes are then untracked, even those that had no
// patches left. A file that cannot be deleted keeps its ref, and its change
// stays tracked; the refs of the files that were deleted are still dropped
// and saved before the error is returned.
//
// # Outputs
//
//   - int: Number of patch references removed.
//   - error: When composer.json cannot be read or written, or when a patch
//     file could not be deleted.
func (m *Manager) RemovePatches(ctx context.Context, changeIDs []string, skipUninstall bool) (removed int, err error) {
	ctx, span, done := m.begin(ctx, opRemove,
		attribute.StringSlice("changes", changeIDs),
		attribute.Bool("skip_uninstall", skipUninstall),
	)
	defer func() { done(err) }()

	state, err := m.store.Load()
	if err != nil {
		return 0, err
	}

	var ids []int
	for _, changeID := range changeIDs {
		numericID, err := m.review.NumericID(ctx, changeID)
		if err != nil {
			m.skip(span, opRemove, skipped(changeID, ReasonLookup, err))
			continue
		}
		if !state.Changes.Has(numericID) {
			m.skip(span, opRemove, skipped(changeID, ReasonNotTracked, nil))
			continue
		}
		if !slices.Contains(ids, numericID) {
			ids = append(ids, numericID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var removeErr error
	if !state.Patches.IsEmpty() {
		refs, err := m.materializer.Remove(ids, state.Patches)
		if err != nil {
			m.logger.Warn("some patch files could not be removed", "error", err)
			removeErr = fmt.Errorf("remove patch files: %w", err)
		}

		var touched []string
		for _, pkg := range sortedKeys(refs) {
			n := state.Patches.Remove(pkg, refs[pkg]...)
			if n == 0 {
				continue
			}
			removed += n
			touched = append(touched, pkg)
			if !state.Patches.Has(pkg) {
				m.revertSource(state, pkg)
			}
		}
		if err := m.store.Save(state); err != nil {
			return removed, err
		}
		m.metrics.PatchesRemoved(removed)

		if !skipUninstall && len(touched) > 0 {
			installed, missing := m.installedSubset(ctx, touched)
			if len(missing) > 0 {
				m.logger.Debug("patched packages not installed, nothing to uninstall", "packages", missing)
			}
			m.uninstall(ctx, installed)
		}
	}

	for _, id := range ids {
		if m.hasPatches(state, id) {
			m.logger.Warn("change keeps patch files, still tracked", "change", id)
			continue
		}
		state.Changes.Remove(id)
		m.logger.Info("change untracked", "change", id)
	}
	if err := m.store.Save(state); err != nil {
		return removed, err
	}
	return removed, removeErr
}

// hasPatches reports whether any recorded ref belongs to id.
func (m *Manager) hasPatches(state *store.State, id int) bool {
	for _, pkg := range state.Patches.Packages() {
		for _, ref := range state.Patches.Refs(pkg) {
			if m.materializer.PatchIsPartOfChange(ref, id) {
				return true
			}
		}
	}
	return false
}

// UpdatePatches re-fetches tracked changes using their stored patch
// directory, include-tests flag and revision. With no ids every tracked
// change is refreshed; otherwise ids that do not name a tracked numeric id
// are ignored. Package install modes are left alone.
func (m *Manager) UpdatePatches(ctx context.Context, changeIDs []string) (created int, err error) {
	ctx, span, done := m.begin(ctx, opUpdate, attribute.StringSlice("changes", changeIDs))
	defer func() { done(err) }()

	state, err := m.store.Load()
	if err != nil {
		return 0, err
	}

	for _, ch := range selectChanges(state.Changes, changeIDs) {
		changeID := strconv.Itoa(ch.ID)
		out := m.apply(ctx, state, changeID, ch.Revision, ch.PatchDir, ch.IncludeTests)
		if !out.Applied {
			m.skip(span, opUpdate, out)
			continue
		}
		if err := m.store.Save(state); err != nil {
			return created, err
		}
		created += out.Created()
	}
	m.metrics.PatchesCreated(opUpdate, created)
	return created, nil
}

// selectChanges returns the tracked changes whose decimal id is in
// requested, or all of them when requested is empty.
func selectChanges(changes *store.Changes, requested []string) []store.Change {
	all := changes.All()
	if len(requested) == 0 {
		return all
	}
	var out []store.Change
	for _, ch := range all {
		if slices.Contains(requested, strconv.Itoa(ch.ID)) {
			out = append(out, ch)
		}
	}
	return out
}

// UpdateLock runs `composer update --lock`, streaming its output to out. A
// failing command is returned as *util.CommandError.
func (m *Manager) UpdateLock(ctx context.Context, out io.Writer) (err error) {
	ctx, _, done := m.begin(ctx, opRelock)
	defer func() { done(err) }()
	return m.installer.Relock(ctx, out)
}

// apply runs one change through fetch, materialize and record. Nothing is
// saved here.
func (m *Manager) apply(ctx context.Context, state *store.State, changeID string, revision int, destination string, includeTests bool) Outcome {
	subject, err := m.review.Subject(ctx, changeID)
	if err != nil {
		return skipped(changeID, ReasonLookup, err)
	}
	numericID, err := m.review.NumericID(ctx, changeID)
	if err != nil {
		return skipped(changeID, ReasonLookup, err)
	}
	diff, err := m.review.Patch(ctx, changeID, revision)
	if err != nil {
		return skipped(changeID, ReasonFetch, err)
	}

	refs, err := m.materializer.Create(numericID, subject, diff, destination, includeTests)
	if err != nil {
		if errors.Is(err, patches.ErrNoPatch) {
			return skipped(changeID, ReasonNoPatch, nil)
		}
		return skipped(changeID, ReasonMaterialize, err)
	}
	if len(refs) == 0 {
		return skipped(changeID, ReasonNoPatch, nil)
	}

	state.Patches.Merge(refs)
	out := applied(changeID, numericID, refs)
	if state.Changes.Add(store.Change{
		ID:           numericID,
		Packages:     out.Packages(),
		IncludeTests: includeTests,
		PatchDir:     destination,
		Revision:     revision,
	}) {
		m.logger.Info("change tracked", "change", numericID, "subject", subject)
	} else if n := state.Changes.AddPackages(numericID, out.Packages()...); n > 0 {
		m.logger.Info("change now patches more packages", "change", numericID, "added", n)
	}
	for _, pkg := range out.Packages() {
		ux.Success(fmt.Sprintf("%s: %s", pkg, subject))
	}
	return out
}

// preferSource switches the installed packages among affected to source
// installs, saves, and uninstalls them.
func (m *Manager) preferSource(ctx context.Context, state *store.State, affected []string) error {
	installed, missing := m.installedSubset(ctx, affected)
	if len(missing) > 0 {
		m.logger.Warn("patched packages are not installed", "packages", missing)
		ux.WarningList("Patched packages are not installed", missing)
	}
	if len(installed) == 0 {
		return nil
	}

	for _, pkg := range installed {
		method, ok := state.PreferredInstall.Get(pkg.Name)
		if ok && method == store.MethodSource {
			continue
		}
		if ok {
			state.PreferredInstallPrevious[pkg.Name] = method
		}
		state.PreferredInstall.Set(pkg.Name, store.MethodSource)
		state.PreferredInstallChanged.Add(pkg.Name)
		m.logger.Info("preferred-install set to source", "package", pkg.Name)
	}
	if err := m.store.Save(state); err != nil {
		return err
	}

	m.uninstall(ctx, installed)
	return nil
}

// revertSource undoes pkg's source override if this tool wrote it: the
// method the package had before is put back, or the entry is dropped when
// it had none.
func (m *Manager) revertSource(state *store.State, pkg string) {
	previous, hadPrevious := state.PreferredInstallPrevious[pkg]
	delete(state.PreferredInstallPrevious, pkg)
	if !state.PreferredInstallChanged.Remove(pkg) {
		return
	}
	if method, ok := state.PreferredInstall.Get(pkg); !ok || method != store.MethodSource {
		return
	}
	if hadPrevious {
		state.PreferredInstall.Set(pkg, previous)
		m.logger.Info("preferred-install restored", "package", pkg, "method", previous)
		return
	}
	state.PreferredInstall.Remove(pkg)
	m.logger.Info("preferred-install reverted", "package", pkg)
}

// installedSubset splits names into installed packages and the names that
// are not installed. A failure to list counts every name as missing.
func (m *Manager) installedSubset(ctx context.Context, names []string) ([]installer.Package, []string) {
	list, err := m.installer.ListInstalled(ctx)
	if err != nil {
		m.logger.Warn("cannot list installed packages", "error", err)
		ux.Warningf("cannot list installed packages: %v", err)
		return nil, names
	}
	byName := make(map[string]installer.Package, len(list))
	for _, pkg := range list {
		byName[pkg.Name] = pkg
	}

	var (
		installed []installer.Package
		missing   []string
	)
	for _, name := range names {
		if pkg, ok := byName[name]; ok {
			installed = append(installed, pkg)
		} else {
			missing = append(missing, name)
		}
	}
	return installed, missing
}

// uninstall starts every uninstall and waits for all of them once. A
// failed uninstall is a warning.
func (m *Manager) uninstall(ctx context.Context, pkgs []installer.Package) {
	if len(pkgs) == 0 {
		return
	}
	spin := ux.NewSpinner("Uninstalling packages", len(pkgs))
	spin.Start()

	handles := make([]*installer.Handle, 0, len(pkgs))
	for _, pkg := range pkgs {
		h := m.installer.Uninstall(ctx, pkg)
		spin.Watch(h.Done())
		handles = append(handles, h)
	}
	err := m.installer.WaitAll(handles)
	spin.Stop()

	if err != nil {
		m.logger.Warn("uninstall failed", "error", err)
		ux.Warningf("uninstall failed: %v", err)
	}
	names := make([]string, 0, len(pkgs))
	for _, h := range handles {
		if h.Err() == nil {
			names = append(names, h.Package)
		}
	}
	if len(names) > 0 {
		m.logger.Info("packages uninstalled", "packages", names)
		ux.Hint("Run `composer install` to reinstall the uninstalled packages.")
	}
}

// skip reports a skipped change.
func (m *Manager) skip(span trace.Span, op string, out Outcome) {
	msg := out.Message()
	m.logger.Warn("change skipped", "operation", op, "change", out.ChangeID, "reason", string(out.Reason), "error", out.Err)
	ux.Warning(msg)
	m.metrics.ChangeSkipped(op, string(out.Reason))
	telemetry.AddSpanEvent(span, "change.skipped",
		attribute.String("change", out.ChangeID),
		attribute.String("reason", string(out.Reason)),
	)
}

// begin starts the operation's span and returns a function that ends it
// and records the duration.
func (m *Manager) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func(error)) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "lifecycle."+op)
	telemetry.SetSpanAttributes(span, attrs...)
	return ctx, span, func(err error) {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.SetSpanOK(span)
		}
		span.End()
		m.metrics.ObserveOperation(op, time.Since(start))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
