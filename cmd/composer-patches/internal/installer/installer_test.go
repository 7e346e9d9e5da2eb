// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package installer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/infra/process"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/util"
)

func newInstaller(t *testing.T, runner process.Runner) (*Installer, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if runner == nil {
		runner = &process.MockRunner{}
	}
	inst := New(fs, Config{Root: "/project"}, runner, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	return inst, fs
}

func TestListInstalled_Composer2(t *testing.T) {
	inst, fs := newInstaller(t, nil)
	require.NoError(t, afero.WriteFile(fs, "/project/vendor/composer/installed.json", []byte(`{
    "packages": [
        {"name": "vendor/pkg", "version": "1.2.3", "install-path": "../vendor/pkg"},
        {"name": "drupal/core", "version": "10.1.0", "install-path": "../../web/core"}
    ],
    "dev": true
}`), 0644))

	pkgs, err := inst.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Package{
		{Name: "vendor/pkg", Version: "1.2.3", InstallPath: "/project/vendor/vendor/pkg"},
		{Name: "drupal/core", Version: "10.1.0", InstallPath: "/project/web/core"},
	}, pkgs)
}

func TestListInstalled_Composer1(t *testing.T) {
	inst, fs := newInstaller(t, nil)
	require.NoError(t, afero.WriteFile(fs, "/project/vendor/composer/installed.json",
		[]byte(`[{"name": "vendor/pkg", "version": "dev-main"}, {"version": "nameless"}]`), 0644))

	pkgs, err := inst.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Package{{Name: "vendor/pkg", Version: "dev-main", InstallPath: "/project/vendor/vendor/pkg"}}, pkgs)
}

func TestListInstalled_NothingInstalled(t *testing.T) {
	inst, _ := newInstaller(t, nil)
	pkgs, err := inst.ListInstalled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

func TestListInstalled_Corrupt(t *testing.T) {
	inst, fs := newInstaller(t, nil)
	require.NoError(t, afero.WriteFile(fs, "/project/vendor/composer/installed.json", []byte(`"nope"`), 0644))
	_, err := inst.ListInstalled(context.Background())
	assert.Error(t, err)
}

func TestUninstall_WaitAll(t *testing.T) {
	inst, fs := newInstaller(t, nil)
	require.NoError(t, afero.WriteFile(fs, "/project/vendor/a/one/src/A.php", []byte("<?php"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/project/vendor/b/two/src/B.php", []byte("<?php"), 0644))

	ctx := context.Background()
	handles := []*Handle{
		inst.Uninstall(ctx, Package{Name: "a/one", InstallPath: "/project/vendor/a/one"}),
		inst.Uninstall(ctx, Package{Name: "b/two"}),
	}
	require.NoError(t, inst.WaitAll(handles))

	for _, dir := range []string{"/project/vendor/a/one", "/project/vendor/b/two"} {
		exists, _ := afero.DirExists(fs, dir)
		assert.False(t, exists, "%s should be removed", dir)
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Errorf("handle %s not done after WaitAll", h.Package)
		}
	}
}

func TestUninstall_FailureDoesNotStopSiblings(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/project/vendor/a/one/x", []byte("x"), 0644))
	ro := afero.NewReadOnlyFs(base)
	inst := New(ro, Config{Root: "/project"}, &process.MockRunner{}, nil, nil)

	handles := []*Handle{
		inst.Uninstall(context.Background(), Package{Name: "a/one"}),
		inst.Uninstall(context.Background(), Package{Name: "a/two"}),
	}
	err := inst.WaitAll(handles)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a/one")
	assert.Contains(t, err.Error(), "a/two")
}

func TestUninstall_CancelledContext(t *testing.T) {
	inst := New(afero.NewMemMapFs(), Config{Root: "/p", Concurrency: 1}, &process.MockRunner{}, nil, nil)
	require.NoError(t, inst.sem.Acquire(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := inst.Uninstall(ctx, Package{Name: "a/one"})
	err := inst.WaitAll([]*Handle{h})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGo_RecoversPanic(t *testing.T) {
	h := Go("a/one", func() error { panic("boom") })
	<-h.Done()

	var panicErr *util.PanicError
	require.ErrorAs(t, h.Err(), &panicErr)
	assert.Equal(t, "a/one", h.Package)
}

func TestWaitAll_JoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	err := WaitAll([]*Handle{
		Go("a", func() error { return errA }),
		Go("ok", func() error { return nil }),
		Go("b", func() error { return errB }),
	})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestWaitAll_Empty(t *testing.T) {
	inst, _ := newInstaller(t, nil)
	assert.NoError(t, inst.WaitAll(nil))
}

func TestRelock(t *testing.T) {
	runner := &process.MockRunner{
		StreamFunc: func(ctx context.Context, cmd process.Command, out io.Writer) error {
			_, _ = io.WriteString(out, "Writing lock file\n")
			return nil
		},
	}
	inst, _ := newInstaller(t, runner)

	var out bytes.Buffer
	require.NoError(t, inst.Relock(context.Background(), &out))
	require.Len(t, runner.Calls, 1)
	assert.Equal(t, "composer update --lock", runner.Calls[0].String())
	assert.Equal(t, "/project", runner.Calls[0].Dir)
	assert.Equal(t, "Writing lock file\n", out.String())
}

func TestRelock_PropagatesExitCode(t *testing.T) {
	runner := &process.MockRunner{
		StreamFunc: func(ctx context.Context, cmd process.Command, out io.Writer) error {
			return util.NewCommandError(cmd.String(), 2, "lock file out of date", errors.New("exit status 2"))
		},
	}
	inst, _ := newInstaller(t, runner)

	err := inst.Relock(context.Background(), io.Discard)
	var cmdErr *util.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 2, cmdErr.ExitCode)
	assert.Equal(t, 2, util.ExitCode(err))
}
