// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/patches"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// ComposerPatchesConfig is the tool configuration. Every field can be
// overridden from the environment as COMPOSER_PATCHES_<SECTION>_<FIELD>,
// e.g. COMPOSER_PATCHES_GERRIT_REQUESTS_PER_SECOND. The logging section uses
// LOG as its section name.
type ComposerPatchesConfig struct {
	Meta MetaConfig `yaml:"meta" ignored:"true"`

	// Gerrit: the review server changes are fetched from
	Gerrit GerritConfig `yaml:"gerrit" envconfig:"GERRIT"`

	// Composer: how installed packages are found and relocked
	Composer ComposerConfig `yaml:"composer" envconfig:"COMPOSER"`

	// Patches: where patch files go and which files count as tests
	Patches PatchesConfig `yaml:"patches" envconfig:"PATCHES"`

	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type GerritConfig struct {
	URL      string `yaml:"url" validate:"required,url"`
	Username string `yaml:"username,omitempty"`

	// Password is only read from COMPOSER_PATCHES_GERRIT_PASSWORD, never
	// from or to the file. Held as bytes so it can be wiped.
	Password []byte `yaml:"-"`

	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" split_words:"true" validate:"gte=0"`
}

type ComposerConfig struct {
	Binary    string `yaml:"binary" validate:"required"`
	VendorDir string `yaml:"vendor_dir" split_words:"true" validate:"required"`

	// UninstallConcurrency bounds simultaneous package removals
	UninstallConcurrency int64 `yaml:"uninstall_concurrency" split_words:"true" validate:"gte=1,lte=64"`
}

type PatchesConfig struct {
	// Dir is the default destination of `add`, relative to the project
	Dir       string   `yaml:"dir" validate:"required"`
	TestGlobs []string `yaml:"test_globs" split_words:"true" validate:"dive,required"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables JSON file logging when set
	Dir string `yaml:"dir,omitempty"`
}

type TelemetryConfig struct {
	// Traces is "none" or "stdout"
	Traces    string `yaml:"traces" validate:"oneof=none stdout"`
	TraceFile string `yaml:"trace_file,omitempty" split_words:"true"`

	// MetricsTextfile is written after every command when set, for the
	// node_exporter textfile collector
	MetricsTextfile string `yaml:"metrics_textfile,omitempty" split_words:"true"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() ComposerPatchesConfig {
	return ComposerPatchesConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Gerrit: GerritConfig{
			URL:               "https://gerrit.wikimedia.org/r",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
		},
		Composer: ComposerConfig{
			Binary:               "composer",
			VendorDir:            "vendor",
			UninstallConcurrency: 4,
		},
		Patches: PatchesConfig{
			Dir:       "patches",
			TestGlobs: append([]string(nil), patches.DefaultTestGlobs...),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Traces: "none",
		},
	}
}
