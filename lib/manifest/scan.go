// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scan is the result of reading a manifest directory.
type Scan struct {
	// Manifests are the valid manifests, ordered by file name.
	Manifests []*Manifest

	// Problems holds one error per .json file that could not be used.
	Problems []error
}

// Find returns the first manifest matching identifier, or nil.
func (s Scan) Find(identifier string) *Manifest {
	for _, manifest := range s.Manifests {
		if manifest.Matches(identifier) {
			return manifest
		}
	}
	return nil
}

// ScanDirectory reads every *.json file directly inside directory.
// Unreadable or invalid manifests are reported in Scan.Problems and do
// not stop the scan. Only a failure to list the directory itself is
// returned as an error.
func ScanDirectory(directory string) (Scan, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return Scan{}, fmt.Errorf("scanning manifest directory: %w", err)
	}

	var scan Scan
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		manifest, err := ReadFile(filepath.Join(directory, entry.Name()))
		if err != nil {
			scan.Problems = append(scan.Problems, err)
			continue
		}
		scan.Manifests = append(scan.Manifests, manifest)
	}
	return scan, nil
}
