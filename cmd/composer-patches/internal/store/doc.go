// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package store reads and writes the patch registries kept in a project's
composer.json.

Four registries are persisted:

	extra.patches                           package -> patch file refs
	extra.gerrit-changes                    numeric change id -> Change
	extra.gerrit-preferred-install-changed  packages this tool set to source
	config.preferred-install                package -> install method

Registry methods only mutate memory. Document.Save writes them back,
keeping every other key of the document and its key order:

	doc := store.Open(afero.NewOsFs(), "composer.json", logger)
	state, err := doc.Load()
	if err != nil {
	    return err
	}
	state.Patches.Add("vendor/pkg", "patches/12345-vendor-pkg.patch")
	return doc.Save(state)
*/
package store
