// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/bureau-foundation/nmproxy/lib/handshake"
	"github.com/bureau-foundation/nmproxy/lib/manifest"
	"github.com/bureau-foundation/nmproxy/lib/process"
)

// ManifestDirectory resolves identifiers against the host manifests in
// one directory per target.
//
// Without a running [ManifestDirectory.Watch] every Resolve rescans the
// directory. While Watch runs, scans are cached and invalidated by
// filesystem events.
type ManifestDirectory struct {
	directories  map[string]string
	checkCallers bool
	logger       *slog.Logger

	mu sync.Mutex
	// watched holds the cleaned directories Watch has a watch on. Only
	// their scans are cached.
	watched map[string]bool
	cache   map[string]cachedScan
	// generation counts invalidations per directory so a scan that
	// raced an event is not cached.
	generation map[string]uint64
}

type cachedScan struct {
	scan       manifest.Scan
	generation uint64
}

// NewManifestDirectory returns a resolver over directories (target to
// directory). With checkCallers, a session whose arguments name no
// caller the manifest allows fails with [ErrCallerNotAllowed].
func NewManifestDirectory(directories map[string]string, checkCallers bool, logger *slog.Logger) *ManifestDirectory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ManifestDirectory{
		directories:  directories,
		checkCallers: checkCallers,
		logger:       logger,
		cache:        make(map[string]cachedScan),
		generation:   make(map[string]uint64),
	}
}

// Resolve implements [Resolver].
func (m *ManifestDirectory) Resolve(ctx context.Context, target string, request handshake.Request) (process.Spec, error) {
	directory, ok := m.directories[target]
	if !ok {
		return process.Spec{}, &ConfigurationError{Target: target, Identifier: request.Identifier, Err: ErrUnknownHost}
	}

	scan, err := m.scan(directory)
	if err != nil {
		m.logger.Warn("manifest directory unreadable", "target", target, "directory", directory, "error", err)
		return process.Spec{}, &ConfigurationError{Target: target, Identifier: request.Identifier, Err: ErrUnknownHost}
	}
	found := scan.Find(request.Identifier)
	if found == nil {
		return process.Spec{}, &ConfigurationError{Target: target, Identifier: request.Identifier, Err: ErrUnknownHost}
	}
	if m.checkCallers && !found.AllowsCaller(request.Args) {
		return process.Spec{}, &ConfigurationError{
			Target:     target,
			Identifier: request.Identifier,
			Err:        fmt.Errorf("%w (%s)", ErrCallerNotAllowed, found.File),
		}
	}
	return process.Spec{
		Path: found.Path,
		Args: slices.Clone(request.Args),
	}, nil
}

func (m *ManifestDirectory) scan(directory string) (manifest.Scan, error) {
	m.mu.Lock()
	watching := m.watched[filepath.Clean(directory)]
	cached, hit := m.cache[directory]
	generation := m.generation[directory]
	m.mu.Unlock()

	if watching && hit {
		return cached.scan, nil
	}

	scan, err := manifest.ScanDirectory(directory)
	if err != nil {
		return manifest.Scan{}, err
	}
	for _, problem := range scan.Problems {
		m.logger.Warn("skipping manifest", "error", problem)
	}

	if watching {
		m.mu.Lock()
		if m.watched[filepath.Clean(directory)] && m.generation[directory] == generation {
			m.cache[directory] = cachedScan{scan: scan, generation: generation}
		}
		m.mu.Unlock()
	}
	return scan, nil
}

func (m *ManifestDirectory) invalidate(directory string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation[directory]++
	delete(m.cache, directory)
}

// Cached reports whether a scan of directory is cached. Tests use it to
// observe invalidation.
func (m *ManifestDirectory) Cached(directory string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cache[directory]
	return ok
}

// Watch enables caching for the directories it manages to watch and
// invalidates their cached scans on filesystem events until ctx is
// done. Directories that cannot be watched (for example, ones that do
// not exist yet) are logged and rescanned on every lookup.
// ready, if not nil, is closed once the watches are installed.
func (m *ManifestDirectory) Watch(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating manifest watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	for _, directory := range m.directories {
		clean := filepath.Clean(directory)
		if watched[clean] {
			continue
		}
		if err := watcher.Add(clean); err != nil {
			m.logger.Warn("not watching manifest directory", "directory", clean, "error", err)
			continue
		}
		watched[clean] = true
	}

	m.mu.Lock()
	m.watched = watched
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.watched = nil
		clear(m.cache)
		m.mu.Unlock()
	}()
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			directory := filepath.Dir(event.Name)
			m.logger.Debug("manifest directory changed", "directory", directory, "file", filepath.Base(event.Name), "op", event.Op.String())
			m.invalidateMatching(directory)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Events may have been lost; drop everything.
			m.logger.Warn("manifest watcher error", "error", err)
			m.invalidateAll()
		case <-ctx.Done():
			return nil
		}
	}
}

// invalidateMatching invalidates every configured directory equal to
// the event's directory. Configured paths may differ from the cleaned
// form fsnotify reports.
func (m *ManifestDirectory) invalidateMatching(eventDirectory string) {
	for _, directory := range m.directories {
		if filepath.Clean(directory) == eventDirectory {
			m.invalidate(directory)
		}
	}
}

func (m *ManifestDirectory) invalidateAll() {
	for _, directory := range m.directories {
		m.invalidate(directory)
	}
}
