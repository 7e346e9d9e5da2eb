// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"encoding/json"
	"slices"
	"sort"
)

// =============================================================================
// PatchSet
// =============================================================================

// PatchSet maps a package name to its ordered set of patch file references.
// A package whose list becomes empty is removed.
//
// Entries that are not a list of strings (for example the description->URL
// objects other patch plugins keep under the same key) are carried through
// untouched and are invisible to the registry operations.
type PatchSet struct {
	order   []string
	refs    map[string][]string
	foreign *object
}

// NewPatchSet returns an empty PatchSet.
func NewPatchSet() *PatchSet {
	return &PatchSet{refs: make(map[string][]string), foreign: newObject()}
}

// Has reports whether pkg has at least one patch.
func (p *PatchSet) Has(pkg string) bool {
	return len(p.refs[pkg]) > 0
}

// HasPatch reports whether ref is recorded for pkg.
func (p *PatchSet) HasPatch(pkg, ref string) bool {
	return slices.Contains(p.refs[pkg], ref)
}

// Add appends refs to pkg, skipping refs already present. Returns the number
// appended.
func (p *PatchSet) Add(pkg string, refs ...string) int {
	added := 0
	for _, ref := range refs {
		if p.HasPatch(pkg, ref) {
			continue
		}
		if _, ok := p.refs[pkg]; !ok {
			p.order = append(p.order, pkg)
		}
		p.refs[pkg] = append(p.refs[pkg], ref)
		added++
	}
	return added
}

// Merge adds every package's refs from m. Packages are visited in sorted
// order so the resulting document is deterministic.
func (p *PatchSet) Merge(m map[string][]string) int {
	added := 0
	for _, pkg := range sortedKeys(m) {
		added += p.Add(pkg, m[pkg]...)
	}
	return added
}

// Remove deletes refs from pkg and drops pkg once it has no refs left.
// Returns the number removed.
func (p *PatchSet) Remove(pkg string, refs ...string) int {
	current, ok := p.refs[pkg]
	if !ok {
		return 0
	}
	kept := current[:0:0]
	removed := 0
	for _, ref := range current {
		if slices.Contains(refs, ref) {
			removed++
			continue
		}
		kept = append(kept, ref)
	}
	if len(kept) == 0 {
		p.dropPackage(pkg)
	} else {
		p.refs[pkg] = kept
	}
	return removed
}

func (p *PatchSet) dropPackage(pkg string) {
	delete(p.refs, pkg)
	p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == pkg })
}

// Packages returns the package names in insertion order.
func (p *PatchSet) Packages() []string {
	return slices.Clone(p.order)
}

// Refs returns a copy of pkg's refs.
func (p *PatchSet) Refs(pkg string) []string {
	return slices.Clone(p.refs[pkg])
}

// Len returns the total number of refs across all packages.
func (p *PatchSet) Len() int {
	n := 0
	for _, refs := range p.refs {
		n += len(refs)
	}
	return n
}

// IsEmpty reports whether no package has a patch.
func (p *PatchSet) IsEmpty() bool {
	return len(p.order) == 0
}

// Snapshot returns a deep copy as a plain map.
func (p *PatchSet) Snapshot() map[string][]string {
	out := make(map[string][]string, len(p.refs))
	for pkg, refs := range p.refs {
		out[pkg] = slices.Clone(refs)
	}
	return out
}

func (p *PatchSet) decode(obj *object) {
	for _, pkg := range obj.keys {
		raw := obj.values[pkg]
		var refs []string
		if err := json.Unmarshal(raw, &refs); err != nil {
			p.foreign.set(pkg, raw)
			continue
		}
		p.Add(pkg, refs...)
	}
}

func (p *PatchSet) encode() (*object, error) {
	obj := newObject()
	for _, pkg := range p.foreign.keys {
		obj.set(pkg, p.foreign.values[pkg])
	}
	for _, pkg := range p.order {
		if err := obj.setValue(pkg, p.refs[pkg]); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// =============================================================================
// Changes
// =============================================================================

// LatestRevision selects the current revision of a change.
const LatestRevision = -1

// Change records one tracked review change.
type Change struct {
	// ID is the service-assigned numeric change number.
	ID int `json:"-"`

	// Packages lists every package the change produced a patch for.
	Packages []string `json:"packages"`

	// IncludeTests records whether test files were kept.
	IncludeTests bool `json:"include-tests"`

	// PatchDir is the directory the patch files were written to.
	PatchDir string `json:"patch-dir"`

	// Revision is the patch set number, or LatestRevision.
	Revision int `json:"revision"`
}

// HasPackage reports whether pkg is one of the change's packages.
func (c Change) HasPackage(pkg string) bool {
	return slices.Contains(c.Packages, pkg)
}

type changeJSON struct {
	Packages     []string `json:"packages"`
	IncludeTests bool     `json:"include-tests"`
	PatchDir     string   `json:"patch-dir"`
	Revision     *int     `json:"revision"`
}

// UnmarshalJSON defaults a missing revision to LatestRevision.
func (c *Change) UnmarshalJSON(data []byte) error {
	var aux changeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Packages = aux.Packages
	c.IncludeTests = aux.IncludeTests
	c.PatchDir = aux.PatchDir
	c.Revision = LatestRevision
	if aux.Revision != nil {
		c.Revision = *aux.Revision
	}
	return nil
}

// Changes is the registry of tracked changes keyed by numeric id.
type Changes struct {
	byID map[int]Change
}

// NewChanges returns an empty registry.
func NewChanges() *Changes {
	return &Changes{byID: make(map[int]Change)}
}

// Has reports whether id is tracked.
func (c *Changes) Has(id int) bool {
	_, ok := c.byID[id]
	return ok
}

// Get returns the tracked change.
func (c *Changes) Get(id int) (Change, bool) {
	ch, ok := c.byID[id]
	if ok {
		ch.Packages = slices.Clone(ch.Packages)
	}
	return ch, ok
}

// Add records ch unless its id is already tracked (first writer wins).
// Returns true when ch was recorded.
func (c *Changes) Add(ch Change) bool {
	if c.Has(ch.ID) {
		return false
	}
	ch.Packages = slices.Clone(ch.Packages)
	sort.Strings(ch.Packages)
	ch.Packages = slices.Compact(ch.Packages)
	c.byID[ch.ID] = ch
	return true
}

// AddPackages merges pkgs into the tracked change id, keeping the rest of
// its record. Returns the number of packages added.
func (c *Changes) AddPackages(id int, pkgs ...string) int {
	ch, ok := c.byID[id]
	if !ok {
		return 0
	}
	before := len(ch.Packages)
	merged := append(slices.Clone(ch.Packages), pkgs...)
	sort.Strings(merged)
	ch.Packages = slices.Compact(merged)
	c.byID[id] = ch
	return len(ch.Packages) - before
}

// Remove stops tracking id. Returns false when it was not tracked.
func (c *Changes) Remove(id int) bool {
	if !c.Has(id) {
		return false
	}
	delete(c.byID, id)
	return true
}

// IDs returns the tracked ids in ascending order.
func (c *Changes) IDs() []int {
	ids := make([]int, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// All returns the tracked changes in ascending id order.
func (c *Changes) All() []Change {
	out := make([]Change, 0, len(c.byID))
	for _, id := range c.IDs() {
		ch, _ := c.Get(id)
		out = append(out, ch)
	}
	return out
}

// Len returns the number of tracked changes.
func (c *Changes) Len() int {
	return len(c.byID)
}

// =============================================================================
// PreferredInstall
// =============================================================================

// MethodSource is the only install method this tool writes.
const MethodSource = "source"

// wildcard is Composer's catch-all pattern in the preferred-install map.
const wildcard = "*"

// PreferredInstall maps a package name (or Composer pattern) to an install
// method. It is persisted in config.preferred-install, which may also be a
// single global string. The global method, whether spelled as a string or as
// the "*" entry, is kept apart from the per-package entries and is always
// written back: as a string while there are no entries, else as "*".
type PreferredInstall struct {
	order     []string
	methods   map[string]string
	global    string
	hasGlobal bool
}

// NewPreferredInstall returns an empty registry.
func NewPreferredInstall() *PreferredInstall {
	return &PreferredInstall{methods: make(map[string]string)}
}

// Get returns pkg's method.
func (p *PreferredInstall) Get(pkg string) (string, bool) {
	m, ok := p.methods[pkg]
	return m, ok
}

// Has reports whether pkg has an explicit entry.
func (p *PreferredInstall) Has(pkg string) bool {
	_, ok := p.methods[pkg]
	return ok
}

// Set writes pkg's method.
func (p *PreferredInstall) Set(pkg, method string) {
	if _, ok := p.methods[pkg]; !ok {
		p.order = append(p.order, pkg)
	}
	p.methods[pkg] = method
}

// Remove deletes pkg's entry. Returns false when there was none.
func (p *PreferredInstall) Remove(pkg string) bool {
	if _, ok := p.methods[pkg]; !ok {
		return false
	}
	delete(p.methods, pkg)
	p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == pkg })
	return true
}

// Global returns the global install method, if one is set.
func (p *PreferredInstall) Global() (string, bool) {
	return p.global, p.hasGlobal
}

// Entries returns a copy of the explicit entries.
func (p *PreferredInstall) Entries() map[string]string {
	out := make(map[string]string, len(p.methods))
	for k, v := range p.methods {
		out[k] = v
	}
	return out
}

func (p *PreferredInstall) decode(raw json.RawMessage) bool {
	var global string
	if err := json.Unmarshal(raw, &global); err == nil {
		p.global, p.hasGlobal = global, true
		return true
	}
	obj, err := parseObject(raw)
	if err != nil {
		return false
	}
	for _, key := range obj.keys {
		var method string
		if err := json.Unmarshal(obj.values[key], &method); err != nil {
			continue
		}
		if key == wildcard {
			p.global, p.hasGlobal = method, true
			continue
		}
		p.Set(key, method)
	}
	return true
}

// encode returns the value to write and whether the key should be present.
func (p *PreferredInstall) encode() (json.RawMessage, bool, error) {
	if len(p.order) == 0 {
		if !p.hasGlobal {
			return nil, false, nil
		}
		raw, err := marshalRaw(p.global)
		return raw, true, err
	}
	obj := newObject()
	if p.hasGlobal {
		if err := obj.setValue(wildcard, p.global); err != nil {
			return nil, false, err
		}
	}
	for _, pkg := range p.order {
		if err := obj.setValue(pkg, p.methods[pkg]); err != nil {
			return nil, false, err
		}
	}
	raw, err := obj.MarshalJSON()
	return raw, true, err
}

// =============================================================================
// PackageSet
// =============================================================================

// PackageSet is an insertion-ordered set of package names.
type PackageSet struct {
	names []string
}

// NewPackageSet returns an empty set.
func NewPackageSet() *PackageSet {
	return &PackageSet{}
}

// Has reports membership.
func (s *PackageSet) Has(pkg string) bool {
	return slices.Contains(s.names, pkg)
}

// Add inserts pkg. Returns false when already present.
func (s *PackageSet) Add(pkg string) bool {
	if s.Has(pkg) {
		return false
	}
	s.names = append(s.names, pkg)
	return true
}

// Remove deletes pkg. Returns false when absent.
func (s *PackageSet) Remove(pkg string) bool {
	if !s.Has(pkg) {
		return false
	}
	s.names = slices.DeleteFunc(s.names, func(n string) bool { return n == pkg })
	return true
}

// List returns the members in insertion order.
func (s *PackageSet) List() []string {
	return slices.Clone(s.names)
}

// Len returns the number of members.
func (s *PackageSet) Len() int {
	return len(s.names)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
