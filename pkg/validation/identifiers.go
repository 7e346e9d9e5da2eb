// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks operator input before it reaches the review
// server or the project tree.
//
// Change identifiers end up in REST paths and package names in filesystem
// paths under vendor/, so both are matched against strict patterns instead
// of being escaped after the fact.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// changeIDPattern accepts the forms Gerrit resolves a change by:
//   - a change number: 12345
//   - a Change-Id: I8473b95934b5732ac55d26311a706c9c2bde9940
//   - project~number: mediawiki/core~12345
//   - project~branch~Change-Id: mediawiki/core~master~I8473b959...
var changeIDPattern = regexp.MustCompile(
	`^(?:[0-9]+|I[0-9a-f]{7,40}|[\w./+-]+~[0-9]+|[\w./+-]+~[\w./+-]+~I[0-9a-f]{7,40})$`)

// packageNamePattern is Composer's own rule for vendor/name.
var packageNamePattern = regexp.MustCompile(
	`^[a-z0-9]([_.-]?[a-z0-9]+)*/[a-z0-9](([_.]|-{1,2})?[a-z0-9]+)*$`)

// ValidateChangeID validates one change identifier.
//
// Example:
//
//	if err := validation.ValidateChangeID(id); err != nil {
//	    return fmt.Errorf("invalid change: %w", err)
//	}
func ValidateChangeID(id string) error {
	if id == "" {
		return fmt.Errorf("change id cannot be empty")
	}
	if strings.Contains(id, "..") || !changeIDPattern.MatchString(id) {
		return fmt.Errorf("invalid change id format: %q (want a change number, a Change-Id or project~branch~Change-Id)", id)
	}
	return nil
}

// ValidateChangeIDs validates every id and lists all invalid ones.
func ValidateChangeIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateChangeID(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid change ids: %q", invalid)
	}
	return nil
}

// ValidatePackageName validates a Composer package name (vendor/name,
// lowercase).
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if !packageNamePattern.MatchString(name) {
		return fmt.Errorf("invalid package name: %q (must be lowercase vendor/name)", name)
	}
	return nil
}

// ValidatePackageNames validates every name and lists all invalid ones.
func ValidatePackageNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidatePackageName(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid package names: %q", invalid)
	}
	return nil
}

// SanitizeChangeID trims surrounding whitespace and validates the result.
func SanitizeChangeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateChangeID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
