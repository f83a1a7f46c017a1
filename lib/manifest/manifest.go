// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
)

// TypeStdio is the only manifest type that names a launchable host.
const TypeStdio = "stdio"

// ErrUnsupportedType is returned for manifests whose type is not
// [TypeStdio].
var ErrUnsupportedType = errors.New("unsupported manifest type")

// Manifest is one native-messaging host manifest.
type Manifest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Type        string `json:"type"`

	// AllowedExtensions is the Firefox caller list (extension IDs).
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`

	// AllowedOrigins is the Chromium caller list
	// (chrome-extension://ID/ origins).
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// File is the path the manifest was read from. Empty for manifests
	// built with [Parse].
	File string `json:"-"`
}

// Parse decodes and validates a manifest.
func Parse(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := manifest.validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// ReadFile reads and parses the manifest at path. A relative host path
// is resolved against the manifest's directory.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	manifest, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	manifest.File = path
	if !filepath.IsAbs(manifest.Path) {
		manifest.Path = filepath.Join(filepath.Dir(path), manifest.Path)
	}
	return manifest, nil
}

func (m *Manifest) validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("manifest has no name"))
	}
	if m.Path == "" {
		errs = append(errs, errors.New("manifest has no path"))
	}
	if m.Type != TypeStdio {
		errs = append(errs, fmt.Errorf("%w %q (want %q)", ErrUnsupportedType, m.Type, TypeStdio))
	}
	return errors.Join(errs...)
}

// Matches reports whether identifier names this manifest: the manifest
// file name, the file name without its .json extension, or the
// manifest's name field.
func (m *Manifest) Matches(identifier string) bool {
	if identifier == "" {
		return false
	}
	if identifier == m.Name {
		return true
	}
	if m.File == "" {
		return false
	}
	base := filepath.Base(m.File)
	return identifier == base || identifier == strings.TrimSuffix(base, ".json")
}

// AllowsCaller reports whether any of the browser-supplied arguments
// names an allowed caller. Firefox passes the extension ID as an
// argument; Chromium passes the calling origin. A manifest with no
// caller lists allows nobody.
func (m *Manifest) AllowsCaller(args []string) bool {
	for _, argument := range args {
		if slices.Contains(m.AllowedExtensions, argument) {
			return true
		}
		if slices.Contains(m.AllowedOrigins, argument) {
			return true
		}
		// Chromium origins are sometimes listed without the trailing
		// slash the browser sends.
		if strings.HasSuffix(argument, "/") && slices.Contains(m.AllowedOrigins, strings.TrimSuffix(argument, "/")) {
			return true
		}
	}
	return false
}
