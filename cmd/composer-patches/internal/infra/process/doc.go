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
Package process provides external command execution and inter-process
locking for composer-patches.

# Runner

Runner abstracts exec so the Composer delegation (relock) can be tested
without a real composer binary:

	r := process.NewDefaultRunner()
	err := r.Stream(ctx, process.Command{Name: "composer", Args: []string{"update", "--lock"}}, os.Stdout)

A non-zero exit surfaces as *util.CommandError carrying the exit code.

# ProcessLock

ProcessLock serialises writers of one composer.json. Every mutating command
holds an exclusive flock(2) on a lock file next to the document for its whole
duration, so the read-modify-write cycle on the document is never interleaved
with another composer-patches invocation.

	lock := process.NewProcessLock(process.LockConfigFor("/srv/site/composer.json"))
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Limitations

  - Locks are advisory: composer itself does not take them.
  - Requires flock(2) (Unix).
*/
package process
