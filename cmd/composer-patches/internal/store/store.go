// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

// Document keys.
const (
	keyExtra                    = "extra"
	keyConfig                   = "config"
	keyPatches                  = "patches"
	keyChanges                  = "gerrit-changes"
	keyPreferredInstallChanged  = "gerrit-preferred-install-changed"
	keyPreferredInstallPrevious = "gerrit-preferred-install-previous"
	keyPreferredInstall         = "preferred-install"
)

// ErrNotObject is returned by Save when the existing document, or one of the
// sections it writes into, is not a JSON object. Overwriting it would lose
// content the operator wrote.
var ErrNotObject = errors.New("composer document is not a JSON object")

// State holds the registries loaded from one document.
type State struct {
	Patches                 *PatchSet
	Changes                 *Changes
	PreferredInstall        *PreferredInstall
	PreferredInstallChanged *PackageSet

	// PreferredInstallPrevious keeps the explicit method a package had
	// before this tool switched it to source. Packages that had no entry
	// of their own are absent.
	PreferredInstallPrevious map[string]string
}

// NewState returns a State with empty registries.
func NewState() *State {
	return &State{
		Patches:                 NewPatchSet(),
		Changes:                 NewChanges(),
		PreferredInstall:        NewPreferredInstall(),
		PreferredInstallChanged: NewPackageSet(),

		PreferredInstallPrevious: make(map[string]string),
	}
}

// Document is the Composer project document (composer.json) holding the
// persisted registries.
//
// # Thread Safety
//
// Not safe for concurrent use. Cross-process exclusion is the caller's job
// (see infra/process.ProcessLock).
type Document struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// Open returns a Document for path. Nothing is read until Load.
func Open(fs afero.Fs, path string, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{fs: fs, path: path, logger: logger.With("document", path)}
}

// Path returns the document path.
func (d *Document) Path() string {
	return d.path
}

// Load parses the document and returns its registries.
//
// # Description
//
// A missing, empty or non-object document yields empty registries and a
// warning. A registry stored with the wrong JSON shape is treated as empty
// and logged. Only I/O errors other than "not found" are returned.
func (d *Document) Load() (*State, error) {
	state := NewState()

	root, err := d.read()
	if err != nil {
		if errors.Is(err, errNotObject) {
			d.logger.Warn("composer document is not a JSON object, starting with empty registries", "error", err)
			return state, nil
		}
		return nil, err
	}
	if root == nil {
		d.logger.Warn("composer document missing or empty, starting with empty registries")
		return state, nil
	}

	if extra, present, ok := root.child(keyExtra); ok {
		d.decodeExtra(extra, state)
	} else if present {
		d.logger.Warn("ignoring non-object section", "key", keyExtra)
	}

	if config, present, ok := root.child(keyConfig); ok {
		if raw, has := config.get(keyPreferredInstall); has && !state.PreferredInstall.decode(raw) {
			d.logger.Warn("ignoring malformed registry", "key", keyConfig+"."+keyPreferredInstall)
		}
	} else if present {
		d.logger.Warn("ignoring non-object section", "key", keyConfig)
	}

	return state, nil
}

func (d *Document) decodeExtra(extra *object, state *State) {
	if patches, present, ok := extra.child(keyPatches); ok {
		state.Patches.decode(patches)
	} else if present {
		d.logger.Warn("ignoring malformed registry", "key", keyExtra+"."+keyPatches)
	}

	if changes, present, ok := extra.child(keyChanges); ok {
		for _, key := range changes.keys {
			id, err := strconv.Atoi(key)
			if err != nil {
				d.logger.Warn("ignoring change with non-numeric id", "id", key)
				continue
			}
			var ch Change
			if err := json.Unmarshal(changes.values[key], &ch); err != nil {
				d.logger.Warn("ignoring malformed change", "id", key, "error", err)
				continue
			}
			ch.ID = id
			state.Changes.Add(ch)
		}
	} else if present {
		d.logger.Warn("ignoring malformed registry", "key", keyExtra+"."+keyChanges)
	}

	if raw, present := extra.get(keyPreferredInstallChanged); present {
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			d.logger.Warn("ignoring malformed registry", "key", keyExtra+"."+keyPreferredInstallChanged)
		}
		for _, name := range names {
			state.PreferredInstallChanged.Add(name)
		}
	}

	if raw, present := extra.get(keyPreferredInstallPrevious); present {
		var previous map[string]string
		if err := json.Unmarshal(raw, &previous); err != nil {
			d.logger.Warn("ignoring malformed registry", "key", keyExtra+"."+keyPreferredInstallPrevious)
		}
		for pkg, method := range previous {
			state.PreferredInstallPrevious[pkg] = method
		}
	}
}

// Save writes the registries back into the document.
//
// # Description
//
// The document is re-read so keys written by other tools since Load are
// kept. Registry keys are replaced in place (new keys are appended), empty
// registries remove their key, and the file is replaced atomically.
//
// # Outputs
//
//   - error: ErrNotObject if the document or its extra/config section is not
//     an object, or an I/O error.
func (d *Document) Save(state *State) error {
	root, err := d.read()
	if err != nil {
		if errors.Is(err, errNotObject) {
			return fmt.Errorf("%w: %s", ErrNotObject, d.path)
		}
		return err
	}
	if root == nil {
		root = newObject()
	}

	extra, extraPresent, ok := root.child(keyExtra)
	if extraPresent && !ok {
		return fmt.Errorf("%w: %s section of %s", ErrNotObject, keyExtra, d.path)
	}
	if !extraPresent {
		extra = newObject()
	}
	config, configPresent, ok := root.child(keyConfig)
	if configPresent && !ok {
		return fmt.Errorf("%w: %s section of %s", ErrNotObject, keyConfig, d.path)
	}
	if !configPresent {
		config = newObject()
	}

	extraBefore, configBefore := extra.len(), config.len()

	if err := encodeExtra(extra, state); err != nil {
		return err
	}
	raw, keep, err := state.PreferredInstall.encode()
	if err != nil {
		return err
	}
	if keep {
		config.set(keyPreferredInstall, raw)
	} else {
		config.delete(keyPreferredInstall)
	}

	if err := putSection(root, keyExtra, extra, extraBefore); err != nil {
		return err
	}
	if err := putSection(root, keyConfig, config, configBefore); err != nil {
		return err
	}

	data, err := root.encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.path, err)
	}
	return d.writeAtomic(data)
}

func encodeExtra(extra *object, state *State) error {
	patches, err := state.Patches.encode()
	if err != nil {
		return err
	}
	if patches.len() > 0 {
		if err := setObject(extra, keyPatches, patches); err != nil {
			return err
		}
	} else {
		extra.delete(keyPatches)
	}

	if state.Changes.Len() > 0 {
		changes := newObject()
		for _, ch := range state.Changes.All() {
			if ch.Packages == nil {
				ch.Packages = []string{}
			}
			if err := changes.setValue(strconv.Itoa(ch.ID), ch); err != nil {
				return err
			}
		}
		if err := setObject(extra, keyChanges, changes); err != nil {
			return err
		}
	} else {
		extra.delete(keyChanges)
	}

	if state.PreferredInstallChanged.Len() > 0 {
		if err := extra.setValue(keyPreferredInstallChanged, state.PreferredInstallChanged.List()); err != nil {
			return err
		}
	} else {
		extra.delete(keyPreferredInstallChanged)
	}

	if len(state.PreferredInstallPrevious) > 0 {
		if err := extra.setValue(keyPreferredInstallPrevious, state.PreferredInstallPrevious); err != nil {
			return err
		}
	} else {
		extra.delete(keyPreferredInstallPrevious)
	}
	return nil
}

// putSection writes section back under key. A section this save emptied is
// removed; one that was already empty is left as it was.
func putSection(root *object, key string, section *object, before int) error {
	switch {
	case section.len() > 0:
		return setObject(root, key, section)
	case before > 0:
		root.delete(key)
	}
	return nil
}

func setObject(parent *object, key string, child *object) error {
	raw, err := child.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	parent.set(key, raw)
	return nil
}

// read returns the parsed document, or nil when it is missing or blank.
func (d *Document) read() (*object, error) {
	data, err := afero.ReadFile(d.fs, d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return parseObject(data)
}

// writeAtomic writes data to a temp file beside the document and renames it
// over the original, keeping the original's permissions.
func (d *Document) writeAtomic(data []byte) error {
	mode := os.FileMode(0644)
	if info, err := d.fs.Stat(d.path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(d.path)
	tmp, err := afero.TempFile(d.fs, dir, "."+filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := d.fs.Chmod(tmpName, mode); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := d.fs.Rename(tmpName, d.path); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", d.path, err)
	}
	d.logger.Debug("composer document saved", "bytes", len(data))
	return nil
}
