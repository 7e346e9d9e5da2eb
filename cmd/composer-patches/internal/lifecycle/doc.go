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
Package lifecycle keeps the patch registries in composer.json consistent
with the review server and the installed package set.

# Operations

  - AddPatches fetches changes, writes one patch file per package and
    records both the files and the change. With include-tests it switches
    the affected installed packages to source installs and uninstalls them.
  - RemovePatches deletes the patch files of tracked changes, reverts the
    source installs this tool set, and uninstalls the packages that lost a
    patch.
  - UpdatePatches re-fetches tracked changes with their stored settings.
  - VerifyPatchesForPackage finds changes already contained in an installed
    package's version and asks whether to drop them.
  - UpdateLock runs `composer update --lock`.

# Failure Model

Per-change problems (lookup or fetch failures, empty patches, untracked
ids) are warnings: the change is skipped and the batch continues. Each
change is saved as soon as it is processed. Failing to read or write
composer.json, and a failing composer command, abort the operation.

# Thread Safety

A Manager is driven by one goroutine. Uninstalls run concurrently inside
the installer and are joined once per operation.
*/
package lifecycle
