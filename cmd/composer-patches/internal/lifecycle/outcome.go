// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import "fmt"

// Reason says why a change was skipped. The values double as metric labels.
type Reason string

const (
	ReasonLookup      Reason = "lookup"
	ReasonFetch       Reason = "fetch"
	ReasonNoPatch     Reason = "no-patch"
	ReasonMaterialize Reason = "materialize"
	ReasonNotTracked  Reason = "not-tracked"
	ReasonIncludedIn  Reason = "included-in"
)

// Outcome is the result of processing one change. A skipped change carries
// its Reason and the underlying error, if any.
type Outcome struct {
	ChangeID  string
	NumericID int

	Applied bool
	Reason  Reason
	Err     error

	// Refs maps package -> refs created, for applied changes.
	Refs map[string][]string
}

func applied(changeID string, numericID int, refs map[string][]string) Outcome {
	return Outcome{ChangeID: changeID, NumericID: numericID, Applied: true, Refs: refs}
}

func skipped(changeID string, reason Reason, err error) Outcome {
	return Outcome{ChangeID: changeID, Reason: reason, Err: err}
}

// Created returns the number of refs created.
func (o Outcome) Created() int {
	n := 0
	for _, refs := range o.Refs {
		n += len(refs)
	}
	return n
}

// Packages returns the packages that received a patch, sorted.
func (o Outcome) Packages() []string {
	return sortedKeys(o.Refs)
}

// Message is the operator-facing warning for a skipped change.
func (o Outcome) Message() string {
	var msg string
	switch o.Reason {
	case ReasonLookup:
		msg = fmt.Sprintf("could not resolve change %s", o.ChangeID)
	case ReasonFetch:
		msg = fmt.Sprintf("could not fetch patch for change %s", o.ChangeID)
	case ReasonNoPatch:
		msg = fmt.Sprintf("change %s produced no patch", o.ChangeID)
	case ReasonMaterialize:
		msg = fmt.Sprintf("could not write patch for change %s", o.ChangeID)
	case ReasonNotTracked:
		return fmt.Sprintf("change %s is not tracked, skipping", o.ChangeID)
	case ReasonIncludedIn:
		msg = fmt.Sprintf("could not check where change %s was merged", o.ChangeID)
	default:
		msg = fmt.Sprintf("skipped change %s", o.ChangeID)
	}
	if o.Err != nil {
		msg += ": " + o.Err.Error()
	}
	return msg
}
