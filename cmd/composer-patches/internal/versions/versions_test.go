// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package versions

import (
	"reflect"
	"testing"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"1.2.3", "v1.2.3", true},
		{"v1.2", "v1.2.0", true},
		{"1.2.3.0", "v1.2.3", true},
		{"1.2.3-beta1", "v1.2.3-beta1", true},
		{"V2.0.0", "v2.0.0", true},
		{"dev-main", "", false},
		{"1.x-dev", "", false},
		{"", "", false},
		{"REL1_39", "", false},
	}
	for _, tt := range tests {
		got, ok := Canonical(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Canonical(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSatisfiesTag(t *testing.T) {
	tests := []struct {
		version string
		tag     string
		want    bool
	}{
		{"1.3.0", "1.3.0", true},
		{"1.4.2", "1.3.0", true},
		{"v1.4.2", "v1.3.0", true},
		{"1.2.9", "1.3.0", false},
		{"2.0.0", "1.3.0", false},
		{"0.3.5", "0.3.1", true},
		{"0.4.0", "0.3.1", false},
		{"0.0.3", "0.0.3", true},
		{"0.0.4", "0.0.3", false},
		{"1.3.0.0", "1.3.0", true},
		{"dev-main", "1.3.0", false},
		{"1.3.0", "not-a-tag", false},
	}
	for _, tt := range tests {
		if got := SatisfiesTag(tt.version, tt.tag); got != tt.want {
			t.Errorf("SatisfiesTag(%q, %q) = %v, want %v", tt.version, tt.tag, got, tt.want)
		}
	}
}

// TestBranchConvention pins the "development version of branch" naming
// Composer uses in installed.json. If Composer changes it, branch matching
// silently stops finding obsolete patches, so this test must fail loudly.
func TestBranchConvention(t *testing.T) {
	tests := []struct {
		branch string
		want   []string
	}{
		{"main", []string{"dev-main"}},
		{"feature/x", []string{"dev-feature/x"}},
		{"REL1_39", []string{"dev-REL1_39"}},
		{"1.x", []string{"dev-1.x", "1.x-dev"}},
		{"2.3", []string{"dev-2.3", "2.3.x-dev"}},
		{"11.5", []string{"dev-11.5", "11.5.x-dev"}},
		{"1.0.x", []string{"dev-1.0.x", "1.0.x-dev"}},
		{"2.*", []string{"dev-2.*", "2.x-dev"}},
		{"v4.x", []string{"dev-v4.x", "v4.x-dev"}},
		{"1.2.3", []string{"dev-1.2.3", "1.2.3.x-dev"}},
		{"1.2.3.4", []string{"dev-1.2.3.4", "1.2.3.4-dev"}},
		{"1.2.3.4.5", []string{"dev-1.2.3.4.5"}},
	}
	for _, tt := range tests {
		if got := BranchVersions(tt.branch); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("BranchVersions(%q) = %v, want %v", tt.branch, got, tt.want)
		}
	}
}

func TestMatchesBranch(t *testing.T) {
	if !MatchesBranch("dev-main", "main") {
		t.Error("dev-main should match main")
	}
	if !MatchesBranch("1.x-dev", "1.x") {
		t.Error("1.x-dev should match 1.x")
	}
	if !MatchesBranch("11.5.x-dev", "11.5") {
		t.Error("11.5.x-dev should match 11.5")
	}
	if MatchesBranch("11.5-dev", "11.5") {
		t.Error("11.5-dev is not a name Composer gives branch 11.5")
	}
	if MatchesBranch("1.2.0", "1.x") {
		t.Error("a release must not match a branch")
	}
	if MatchesBranch("dev-main", "master") {
		t.Error("dev-main must not match master")
	}
}

func TestFind(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		tags     []string
		branches []string
		want     Match
		wantOK   bool
	}{
		{"tag first", "1.4.0", []string{"1.3.0"}, []string{"1.x"}, Match{KindTag, "1.3.0"}, true},
		{"branch fallback", "dev-main", []string{"1.3.0"}, []string{"main"}, Match{KindBranch, "main"}, true},
		{"first tag wins", "1.5.0", []string{"1.4.0", "1.3.0"}, nil, Match{KindTag, "1.4.0"}, true},
		{"none", "1.2.0", []string{"1.3.0"}, []string{"main"}, Match{}, false},
		{"empty", "1.2.0", nil, nil, Match{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Find(tt.version, tt.tags, tt.branches)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Find() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
