// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package installer is the Composer installation boundary: it enumerates
// installed packages, uninstalls them so the next `composer install`
// re-fetches them, and delegates relocking to the composer binary.
package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/infra/process"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/metrics"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/util"
)

// Package is one installed Composer package.
type Package struct {
	Name    string
	Version string

	// InstallPath is the absolute directory the package is installed in.
	InstallPath string
}

// Config configures an Installer.
type Config struct {
	// Root is the project directory holding composer.json.
	Root string

	// VendorDir is relative to Root. Defaults to "vendor".
	VendorDir string

	// ComposerBinary is the composer executable. Defaults to "composer".
	ComposerBinary string

	// Concurrency bounds simultaneous uninstalls. Defaults to 4.
	Concurrency int64
}

// Installer implements the installation collaborator over a project tree.
//
// # Thread Safety
//
// Safe for concurrent use.
type Installer struct {
	fs      afero.Fs
	cfg     Config
	runner  process.Runner
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics metrics.Recorder
}

// New returns an Installer. Nil logger and recorder are replaced by
// defaults.
func New(fs afero.Fs, cfg Config, runner process.Runner, logger *slog.Logger, recorder metrics.Recorder) *Installer {
	if cfg.VendorDir == "" {
		cfg.VendorDir = "vendor"
	}
	if cfg.ComposerBinary == "" {
		cfg.ComposerBinary = "composer"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoOp{}
	}
	return &Installer{
		fs:      fs,
		cfg:     cfg,
		runner:  runner,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		logger:  logger,
		metrics: recorder,
	}
}

// installedEntry is one package record of vendor/composer/installed.json.
type installedEntry struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	InstallPath string `json:"install-path"`
}

// ListInstalled reads vendor/composer/installed.json. Both the Composer 1
// layout (a bare array) and the Composer 2 layout ({"packages": [...]}) are
// accepted. A project with nothing installed yields an empty list.
func (i *Installer) ListInstalled(ctx context.Context) ([]Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	composerDir := filepath.Join(i.cfg.Root, i.cfg.VendorDir, "composer")
	path := filepath.Join(composerDir, "installed.json")

	data, err := afero.ReadFile(i.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			i.logger.Debug("no installed.json, nothing installed", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	entries, err := decodeInstalled(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]Package, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		installPath := filepath.Join(i.cfg.Root, i.cfg.VendorDir, filepath.FromSlash(e.Name))
		if e.InstallPath != "" {
			installPath = filepath.Clean(filepath.Join(composerDir, filepath.FromSlash(e.InstallPath)))
		}
		out = append(out, Package{Name: e.Name, Version: e.Version, InstallPath: installPath})
	}
	return out, nil
}

func decodeInstalled(data []byte) ([]installedEntry, error) {
	var v2 struct {
		Packages []installedEntry `json:"packages"`
	}
	if err := json.Unmarshal(data, &v2); err == nil {
		return v2.Packages, nil
	}
	var v1 []installedEntry
	if err := json.Unmarshal(data, &v1); err != nil {
		return nil, err
	}
	return v1, nil
}

// Handle tracks one asynchronous uninstall.
type Handle struct {
	Package string

	done chan struct{}
	err  error
}

// Done is closed when the uninstall finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the uninstall result. Only valid after Done is closed.
func (h *Handle) Err() error {
	return h.err
}

// Go runs fn in the background and returns its Handle. A panic in fn is
// returned as a *util.PanicError.
func Go(pkg string, fn func() error) *Handle {
	h := &Handle{Package: pkg, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = util.Guard(fn)
	}()
	return h
}

// Uninstall removes pkg's install directory in the background. Composer
// notices the missing directory and reinstalls the package on the next
// `composer install`, honouring the current preferred-install setting.
func (i *Installer) Uninstall(ctx context.Context, pkg Package) *Handle {
	return Go(pkg.Name, func() error {
		err := i.uninstall(ctx, pkg)
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		i.metrics.Uninstall(outcome)
		return err
	})
}

func (i *Installer) uninstall(ctx context.Context, pkg Package) error {
	if err := i.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("uninstall %s: %w", pkg.Name, err)
	}
	defer i.sem.Release(1)
	return i.remove(pkg)
}

func (i *Installer) remove(pkg Package) error {
	dir := pkg.InstallPath
	if dir == "" {
		dir = filepath.Join(i.cfg.Root, i.cfg.VendorDir, filepath.FromSlash(pkg.Name))
	}
	if err := i.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("uninstall %s: %w", pkg.Name, err)
	}
	i.logger.Debug("package uninstalled", "package", pkg.Name, "path", dir)
	return nil
}

// WaitAll blocks until every handle is done and returns the joined errors.
// One failure never stops the wait for the others.
func (i *Installer) WaitAll(handles []*Handle) error {
	return WaitAll(handles)
}

// WaitAll is Installer.WaitAll for handles from any source.
func WaitAll(handles []*Handle) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, h := range handles {
		g.Go(func() error {
			<-h.done
			if h.err != nil {
				mu.Lock()
				errs = append(errs, h.err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Relock runs `composer update --lock`, streaming its output to out. A
// non-zero exit is returned as *util.CommandError.
func (i *Installer) Relock(ctx context.Context, out io.Writer) error {
	return i.runner.Stream(ctx, process.Command{
		Name: i.cfg.ComposerBinary,
		Args: []string{"update", "--lock"},
		Dir:  i.cfg.Root,
	}, out)
}
