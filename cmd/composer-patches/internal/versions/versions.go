// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package versions decides whether an installed Composer package version
// already contains a change, given the tags and branches the change landed
// in.
package versions

import (
	"fmt"
	"regexp"
	"strings"

	blang "github.com/blang/semver/v4"
	"golang.org/x/mod/semver"
)

// Kind says what a Match matched against.
type Kind string

const (
	KindTag    Kind = "tag"
	KindBranch Kind = "branch"
)

// Match is the first tag or branch found to contain the installed version.
type Match struct {
	Kind Kind
	Ref  string
}

func (m Match) String() string {
	return fmt.Sprintf("%s %s", m.Kind, m.Ref)
}

// numericBranch matches branch names Composer treats as version branches,
// such as "1.x", "11.5", "v4.x": up to four dot-separated parts, each a
// number or a wildcard.
var numericBranch = regexp.MustCompile(`^([vV]?)(\d+)((?:\.(?:\d+|[xX*])){0,3})$`)

// devRun is a run of wildcard components in a normalized branch version.
var devRun = regexp.MustCompile(`(\.9999999)+`)

// Canonical converts a Composer or git tag version ("v1.2", "1.2.3.0",
// "1.2.3-beta1") to canonical semver ("v1.2.0", "v1.2.3", "v1.2.3-beta1").
// Returns false when the input is not a release version.
func Canonical(v string) (string, bool) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")
	if v == "" {
		return "", false
	}

	// Composer's normalized form carries a fourth numeric component.
	core, suffix := v, ""
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		core, suffix = v[:i], v[i:]
	}
	if parts := strings.Split(core, "."); len(parts) == 4 && parts[3] == "0" {
		core = strings.Join(parts[:3], ".")
	}

	c := semver.Canonical("v" + core + suffix)
	if c == "" {
		return "", false
	}
	return c, true
}

// SatisfiesTag reports whether version lies in the caret range of tag:
// at least tag and below the next breaking release (^tag in Composer
// terms). A fix that landed in 1.3.0 is in 1.4.2 but not assumed in 2.0.0.
func SatisfiesTag(version, tag string) bool {
	cv, ok := Canonical(version)
	if !ok {
		return false
	}
	ct, ok := Canonical(tag)
	if !ok {
		return false
	}
	v, err := blang.Parse(strings.TrimPrefix(cv, "v"))
	if err != nil {
		return false
	}
	t, err := blang.Parse(strings.TrimPrefix(ct, "v"))
	if err != nil {
		return false
	}
	r, err := blang.ParseRange(fmt.Sprintf(">=%s <%s", t, caretUpper(t)))
	if err != nil {
		return false
	}
	return r(v)
}

// caretUpper is the exclusive upper bound of ^t.
func caretUpper(t blang.Version) blang.Version {
	switch {
	case t.Major > 0:
		return blang.Version{Major: t.Major + 1}
	case t.Minor > 0:
		return blang.Version{Minor: t.Minor + 1}
	default:
		return blang.Version{Patch: t.Patch + 1}
	}
}

// BranchVersions returns the Composer versions that denote the development
// head of branch: always "dev-<branch>", plus the version-branch form for
// numeric branches ("1.x" -> "1.x-dev", "11.5" -> "11.5.x-dev").
func BranchVersions(branch string) []string {
	out := []string{"dev-" + branch}
	if v, ok := versionBranch(branch); ok {
		out = append(out, v)
	}
	return out
}

// versionBranch names a numeric branch the way Composer reports it. The
// branch is padded to four parts with wildcards, normalized with 9999999
// for each wildcard, and every run of wildcards is then collapsed to ".x".
func versionBranch(branch string) (string, bool) {
	m := numericBranch.FindStringSubmatch(branch)
	if m == nil {
		return "", false
	}
	parts := []string{m[2]}
	if m[3] != "" {
		parts = append(parts, strings.Split(m[3][1:], ".")...)
	}
	for len(parts) < 4 {
		parts = append(parts, "x")
	}
	for i, p := range parts {
		if p == "x" || p == "X" || p == "*" {
			parts[i] = "9999999"
		}
	}
	normalized := strings.Join(parts, ".")
	prefix := ""
	if m[1] != "" {
		prefix = "v"
	}
	return prefix + devRun.ReplaceAllString(normalized, ".x") + "-dev", true
}

// MatchesBranch reports whether version is the development version of
// branch.
func MatchesBranch(version, branch string) bool {
	version = strings.TrimSpace(version)
	for _, candidate := range BranchVersions(branch) {
		if version == candidate {
			return true
		}
	}
	return false
}

// Find tests version against every tag, then every branch, and returns the
// first match.
func Find(version string, tags, branches []string) (Match, bool) {
	for _, tag := range tags {
		if SatisfiesTag(version, tag) {
			return Match{Kind: KindTag, Ref: tag}, true
		}
	}
	for _, branch := range branches {
		if MatchesBranch(version, branch) {
			return Match{Kind: KindBranch, Ref: branch}, true
		}
	}
	return Match{}, false
}
