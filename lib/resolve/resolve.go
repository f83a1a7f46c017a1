// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/bureau-foundation/nmproxy/lib/config"
	"github.com/bureau-foundation/nmproxy/lib/handshake"
	"github.com/bureau-foundation/nmproxy/lib/process"
	"github.com/bureau-foundation/nmproxy/lib/settings"
)

var (
	// ErrUnknownHost means no source maps the identifier on the target.
	ErrUnknownHost = errors.New("no host configured for identifier")

	// ErrCallerNotAllowed means the host's manifest does not list the
	// calling extension.
	ErrCallerNotAllowed = errors.New("caller not allowed by manifest")
)

// Resolver maps a handshake to a helper.
type Resolver interface {
	Resolve(ctx context.Context, target string, request handshake.Request) (process.Spec, error)
}

// ConfigurationError reports that a session asked for something the
// daemon is not configured to provide. It is scoped to one session.
type ConfigurationError struct {
	Target     string
	Identifier string
	Err        error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("target %q, identifier %q: %v", e.Target, e.Identifier, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is a [*ConfigurationError].
func IsConfigurationError(err error) bool {
	var configurationError *ConfigurationError
	return errors.As(err, &configurationError)
}

// Entry is one host in a [Table].
type Entry struct {
	Spec process.Spec

	// PassCallerArgs appends the handshake's arguments after Spec.Args.
	PassCallerArgs bool
}

// Table is a fixed (target, identifier) to [Entry] mapping. Build it
// with [NewTable] and Add before sharing it.
type Table struct {
	entries map[string]map[string]Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]map[string]Entry)}
}

// TableFromConfig builds a table from the explicit hosts in cfg.
func TableFromConfig(cfg *config.Config) *Table {
	table := NewTable()
	for target, browser := range cfg.Browsers {
		for identifier, host := range browser.Hosts {
			table.Add(target, identifier, Entry{
				Spec: process.Spec{
					Path: host.Path,
					Args: slices.Clone(host.Args),
					Dir:  host.Dir,
					Env:  slices.Clone(host.Env),
				},
				PassCallerArgs: host.PassesCallerArgs(),
			})
		}
	}
	return table
}

// TableFromSettings builds a table from a settings snapshot. Every
// entry passes the caller's arguments through.
func TableFromSettings(snapshot settings.Settings) *Table {
	table := NewTable()
	for target, hosts := range snapshot.NativeBinaries {
		for identifier, path := range hosts {
			table.Add(target, identifier, Entry{Spec: process.Spec{Path: path}, PassCallerArgs: true})
		}
	}
	return table
}

// Add registers entry, replacing any previous one.
func (t *Table) Add(target, identifier string, entry Entry) {
	hosts := t.entries[target]
	if hosts == nil {
		hosts = make(map[string]Entry)
		t.entries[target] = hosts
	}
	hosts[identifier] = entry
}

// Len returns the number of entries across all targets.
func (t *Table) Len() int {
	total := 0
	for _, hosts := range t.entries {
		total += len(hosts)
	}
	return total
}

// Targets returns the targets with at least one entry, sorted.
func (t *Table) Targets() []string {
	return slices.Sorted(maps.Keys(t.entries))
}

// manifestSuffix is the file extension browsers give host manifests.
const manifestSuffix = ".json"

// lookup finds the entry for identifier. A manifest file name and the
// same name without its .json extension name the same host, so an
// entry keyed either way matches an identifier given either way.
func (t *Table) lookup(target, identifier string) (Entry, bool) {
	hosts := t.entries[target]
	if entry, ok := hosts[identifier]; ok {
		return entry, true
	}
	if name, ok := strings.CutSuffix(identifier, manifestSuffix); ok && name != "" {
		entry, ok := hosts[name]
		return entry, ok
	}
	entry, ok := hosts[identifier+manifestSuffix]
	return entry, ok
}

// Resolve implements [Resolver].
func (t *Table) Resolve(ctx context.Context, target string, request handshake.Request) (process.Spec, error) {
	entry, ok := t.lookup(target, request.Identifier)
	if !ok {
		return process.Spec{}, &ConfigurationError{Target: target, Identifier: request.Identifier, Err: ErrUnknownHost}
	}
	spec := entry.Spec
	spec.Args = slices.Clone(entry.Spec.Args)
	if entry.PassCallerArgs {
		spec.Args = append(spec.Args, request.Args...)
	}
	return spec, nil
}

// Chain consults resolvers in order. The first one that knows the
// identifier wins.
type Chain []Resolver

// Resolve implements [Resolver].
func (c Chain) Resolve(ctx context.Context, target string, request handshake.Request) (process.Spec, error) {
	for _, resolver := range c {
		if err := ctx.Err(); err != nil {
			return process.Spec{}, err
		}
		spec, err := resolver.Resolve(ctx, target, request)
		if err == nil {
			return spec, nil
		}
		if !errors.Is(err, ErrUnknownHost) {
			return process.Spec{}, err
		}
	}
	return process.Spec{}, &ConfigurationError{Target: target, Identifier: request.Identifier, Err: ErrUnknownHost}
}

// Build assembles the daemon's resolver chain. The returned
// ManifestDirectory is nil when no target names a manifest_dir;
// otherwise the caller should run its Watch loop.
func Build(cfg *config.Config, snapshot settings.Settings, logger *slog.Logger) (Chain, *ManifestDirectory) {
	chain := Chain{TableFromConfig(cfg), TableFromSettings(snapshot)}

	directories := make(map[string]string)
	for target, browser := range cfg.Browsers {
		if browser.ManifestDir != "" {
			directories[target] = browser.ManifestDir
		}
	}
	if len(directories) == 0 {
		return chain, nil
	}
	manifests := NewManifestDirectory(directories, cfg.Daemon.CheckCallers, logger)
	return append(chain, manifests), manifests
}
