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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// COMPOSER_PATCHES_GERRIT_URL.
const EnvPrefix = "COMPOSER_PATCHES"

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid configuration")

// DefaultPath returns ~/.composer-patches/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".composer-patches", "config.yaml"), nil
}

// Load reads the config file at path, creating it with defaults on first
// run, then applies COMPOSER_PATCHES_* environment overrides and validates
// the result. created reports whether the file was just written.
func Load(fs afero.Fs, path string) (cfg ComposerPatchesConfig, created bool, err error) {
	cfg = DefaultConfig()

	if _, statErr := fs.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if err := createDefault(fs, path); err != nil {
			return cfg, false, err
		}
		created = true
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, created, fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, created, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, created, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, created, err
	}
	return cfg, created, nil
}

func createDefault(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, 0644)
}

// Validate checks field constraints.
func (c ComposerPatchesConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalid, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
