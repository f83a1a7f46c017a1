// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/nmproxy/lib/codec"
)

// CurrentVersion is the snapshot format written by [Save]. [Load]
// rejects snapshots from a newer format.
const CurrentVersion = 1

// Settings is the host table snapshot.
type Settings struct {
	Version int `cbor:"version"`

	// NativeBinaries maps target name to host identifier to the
	// absolute path of the executable to launch.
	NativeBinaries map[string]map[string]string `cbor:"native_binaries"`
}

// Lookup returns the executable registered for identifier on target.
func (s Settings) Lookup(target, identifier string) (string, bool) {
	path, ok := s.NativeBinaries[target][identifier]
	return path, ok
}

// Set registers path for identifier on target, creating the inner map
// as needed.
func (s *Settings) Set(target, identifier, path string) {
	if s.NativeBinaries == nil {
		s.NativeBinaries = make(map[string]map[string]string)
	}
	hosts := s.NativeBinaries[target]
	if hosts == nil {
		hosts = make(map[string]string)
		s.NativeBinaries[target] = hosts
	}
	hosts[identifier] = path
}

// Targets returns the target names with at least one host, sorted.
func (s Settings) Targets() []string {
	return slices.Sorted(maps.Keys(s.NativeBinaries))
}

// Save atomically writes settings to path with mode 0600. The parent
// directory must already exist. A zero Version is written as
// [CurrentVersion].
func Save(path string, settings Settings) error {
	if settings.Version == 0 {
		settings.Version = CurrentVersion
	}
	data, err := codec.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary settings file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary settings file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary settings file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary settings file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming settings file into place: %w", err)
	}

	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Load reads the snapshot at path. A missing file yields an error
// wrapping os.ErrNotExist.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := codec.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	if settings.Version > CurrentVersion {
		return Settings{}, fmt.Errorf("settings file %s has format version %d, newest supported is %d",
			path, settings.Version, CurrentVersion)
	}
	for target, hosts := range settings.NativeBinaries {
		for identifier, executable := range hosts {
			if identifier == "" || executable == "" {
				return Settings{}, fmt.Errorf("settings file %s: target %q has an empty host entry", path, target)
			}
		}
	}
	return settings, nil
}
