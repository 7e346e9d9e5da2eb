// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcome_Counts(t *testing.T) {
	out := applied("I8f2e", 12345, map[string][]string{
		"vendor/b": {"patches/12345-vendor-b.patch"},
		"vendor/a": {"patches/12345-vendor-a.patch", "patches/12345.patch"},
	})
	assert.True(t, out.Applied)
	assert.Equal(t, 3, out.Created())
	assert.Equal(t, []string{"vendor/a", "vendor/b"}, out.Packages())
}

func TestOutcome_Message(t *testing.T) {
	cause := errors.New("HTTP 404")
	tests := []struct {
		out  Outcome
		want string
	}{
		{skipped("7", ReasonLookup, cause), "could not resolve change 7: HTTP 404"},
		{skipped("7", ReasonFetch, cause), "could not fetch patch for change 7: HTTP 404"},
		{skipped("7", ReasonNoPatch, nil), "change 7 produced no patch"},
		{skipped("7", ReasonMaterialize, cause), "could not write patch for change 7: HTTP 404"},
		{skipped("7", ReasonNotTracked, nil), "change 7 is not tracked, skipping"},
		{skipped("7", ReasonIncludedIn, cause), "could not check where change 7 was merged: HTTP 404"},
		{skipped("7", Reason("other"), nil), "skipped change 7"},
	}
	for _, tt := range tests {
		t.Run(string(tt.out.Reason), func(t *testing.T) {
			assert.False(t, tt.out.Applied)
			assert.Equal(t, tt.want, tt.out.Message())
		})
	}
}
