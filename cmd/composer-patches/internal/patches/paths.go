// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patches

import (
	"bytes"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// extractDiff returns the part of a format-patch message between the first
// "diff --git" line and the "-- " signature separator.
func extractDiff(raw []byte) []byte {
	start := -1
	if bytes.HasPrefix(raw, []byte("diff --git ")) {
		start = 0
	} else if i := bytes.Index(raw, []byte("\ndiff --git ")); i >= 0 {
		start = i + 1
	}
	if start < 0 {
		// Plain unified diff without git headers.
		if bytes.HasPrefix(raw, []byte("--- ")) {
			return raw
		}
		if i := bytes.Index(raw, []byte("\n--- ")); i >= 0 {
			return raw[i+1:]
		}
		return nil
	}
	body := raw[start:]
	if i := bytes.LastIndex(body, []byte("\n-- \n")); i >= 0 {
		body = body[:i+1]
	}
	return body
}

// stripPrefix removes git's a/ or b/ source prefix.
func stripPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

// fileDiffPath is the repository path a file diff applies to.
func fileDiffPath(fd *diff.FileDiff) string {
	if fd.NewName != "" && fd.NewName != devNull {
		return stripPrefix(fd.NewName)
	}
	return stripPrefix(fd.OrigName)
}

// splitPackagePath splits vendor/name/rest into ("vendor/name", "rest").
func splitPackagePath(p string) (pkg, rel string, ok bool) {
	parts := strings.SplitN(p, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0] + "/" + parts[1], parts[2], true
}

// relativize returns a copy of fd with every path made relative to pkg.
func relativize(fd *diff.FileDiff, pkg string) *diff.FileDiff {
	out := *fd
	out.OrigName = rewriteName(fd.OrigName, pkg)
	out.NewName = rewriteName(fd.NewName, pkg)

	out.Extended = make([]string, len(fd.Extended))
	for i, line := range fd.Extended {
		out.Extended[i] = rewriteExtended(line, pkg)
	}
	return &out
}

func rewriteName(name, pkg string) string {
	if name == "" || name == devNull {
		return name
	}
	prefix := ""
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		prefix = name[:2]
	}
	return prefix + strings.TrimPrefix(stripPrefix(name), pkg+"/")
}

// rewriteExtended rewrites the paths in git extended header lines.
func rewriteExtended(line, pkg string) string {
	if strings.HasPrefix(line, "diff --git ") {
		fields := strings.Fields(strings.TrimPrefix(line, "diff --git "))
		if len(fields) != 2 {
			return line
		}
		return "diff --git " + rewriteName(fields[0], pkg) + " " + rewriteName(fields[1], pkg)
	}
	for _, key := range []string{"rename from ", "rename to ", "copy from ", "copy to "} {
		if strings.HasPrefix(line, key) {
			return key + strings.TrimPrefix(strings.TrimPrefix(line, key), pkg+"/")
		}
	}
	return line
}
