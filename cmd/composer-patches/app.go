// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/config"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/gerrit"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/infra/process"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/installer"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/lifecycle"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/metrics"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/patches"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/prompt"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/store"
	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/telemetry"
	"github.com/AleutianAI/composer-patches/pkg/logging"
	"github.com/AleutianAI/composer-patches/pkg/ux"
)

// documentName is the project document every command works on.
const documentName = "composer.json"

// app holds one invocation's wiring.
//
// setup builds every collaborator from the configuration once flags are
// parsed; close releases them in reverse order. runner, review and
// prompter are nil in production and replaced by tests.
type app struct {
	opts globalOptions

	stdout io.Writer
	stdin  *os.File
	fs     afero.Fs

	runner   process.Runner
	review   lifecycle.ReviewService
	prompter prompt.Prompter

	cfg        config.ComposerPatchesConfig
	invocation string
	root       string
	logger     *logging.Logger
	recorder   metrics.Recorder
	traceFile  *os.File
	shutdown   func(context.Context) error
	lock       *process.ProcessLock
	doc        *store.Document
	manager    *lifecycle.Manager
}

func newApp(stdout io.Writer, stdin *os.File) *app {
	return &app{
		stdout:   stdout,
		stdin:    stdin,
		fs:       afero.NewOsFs(),
		recorder: metrics.NoOp{},
	}
}

// setup loads configuration and wires the lifecycle manager. Commands that
// write composer.json also take the project lock.
func (a *app) setup(ctx context.Context, mutates bool) error {
	ux.InitPersonality(a.opts.output)
	a.invocation = uuid.NewString()

	cfgPath := a.opts.configPath
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	cfg, created, err := config.Load(a.fs, cfgPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	// The password is kept out of a.cfg. The gerrit client seals its own copy.
	password := cfg.Gerrit.Password
	cfg.Gerrit.Password = nil
	defer memguard.WipeBytes(password)
	a.cfg = cfg

	level := logging.ParseLevel(cfg.Logging.Level)
	if a.opts.verbose {
		level = logging.LevelDebug
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "composer-patches",
		Quiet:   !a.opts.verbose,
	})
	log := a.logger.Slog().With("invocation", a.invocation)
	if created {
		log.Info("wrote default configuration", "path", cfgPath)
		ux.Muted("Created default configuration at " + cfgPath)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return err
	}

	root, err := filepath.Abs(a.opts.workingDir)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	a.root = root
	docPath := filepath.Join(root, documentName)

	if mutates {
		lock := process.NewProcessLock(process.LockConfigFor(docPath))
		if err := lock.Acquire(); err != nil {
			var held *process.ErrLockHeld
			if errors.As(err, &held) {
				ux.Hint("Another composer-patches run is working on this project; wait for it to finish.")
			}
			return err
		}
		a.lock = lock
	}

	a.doc = store.Open(a.fs, docPath, log)

	review := a.review
	if review == nil {
		client, err := gerrit.NewClient(gerrit.Config{
			BaseURL:           cfg.Gerrit.URL,
			Username:          cfg.Gerrit.Username,
			Password:          password,
			Timeout:           cfg.Gerrit.Timeout,
			RequestsPerSecond: cfg.Gerrit.RequestsPerSecond,
			UserAgent:         "composer-patches/" + version,
		}, log, a.recorder)
		if err != nil {
			return err
		}
		review = client
	}

	materializer, err := patches.New(a.fs, patches.Config{Root: root, TestGlobs: cfg.Patches.TestGlobs}, log)
	if err != nil {
		return err
	}

	runner := a.runner
	if runner == nil {
		runner = process.NewDefaultRunner()
	}
	inst := installer.New(a.fs, installer.Config{
		Root:           root,
		VendorDir:      cfg.Composer.VendorDir,
		ComposerBinary: cfg.Composer.Binary,
		Concurrency:    cfg.Composer.UninstallConcurrency,
	}, runner, log, a.recorder)

	prompter := a.prompter
	if prompter == nil {
		prompter = prompt.New(prompt.Options{
			AssumeYes:     a.opts.assumeYes,
			NoInteraction: a.opts.noInteraction,
			In:            a.stdin,
			Out:           ux.Output(),
		})
	}

	a.manager, err = lifecycle.New(lifecycle.Deps{
		Store:        a.doc,
		Review:       review,
		Materializer: materializer,
		Installer:    inst,
		Prompter:     prompter,
		Logger:       log,
		Metrics:      a.recorder,
	})
	return err
}

func (a *app) initTelemetry(ctx context.Context) error {
	a.recorder = metrics.New(a.cfg.Telemetry.MetricsTextfile != "")

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.InvocationID = a.invocation
	tcfg.TraceExporter = a.cfg.Telemetry.Traces
	if a.cfg.Telemetry.TraceFile != "" && tcfg.TraceExporter == telemetry.ExporterStdout {
		f, err := os.OpenFile(a.cfg.Telemetry.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		a.traceFile = f
		tcfg.Output = f
	}

	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}

// close flushes telemetry, writes the metrics textfile and releases the
// lock. Safe to call when setup failed part way.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
		a.shutdown = nil
	}
	if a.traceFile != nil {
		errs = append(errs, a.traceFile.Close())
		a.traceFile = nil
	}
	if prom, ok := a.recorder.(*metrics.Prometheus); ok {
		if err := prom.WriteTextfile(a.cfg.Telemetry.MetricsTextfile); err != nil {
			errs = append(errs, err)
		}
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
		a.lock = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	return errors.Join(errs...)
}
