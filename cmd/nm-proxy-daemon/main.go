// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/nmproxy/lib/activation"
	"github.com/bureau-foundation/nmproxy/lib/codec"
	"github.com/bureau-foundation/nmproxy/lib/config"
	"github.com/bureau-foundation/nmproxy/lib/manifest"
	"github.com/bureau-foundation/nmproxy/lib/process"
	"github.com/bureau-foundation/nmproxy/lib/resolve"
	"github.com/bureau-foundation/nmproxy/lib/settings"
	"github.com/bureau-foundation/nmproxy/lib/version"
	"github.com/bureau-foundation/nmproxy/relay"
	"github.com/bureau-foundation/nmproxy/supervisor"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath   string
	logFormat    string
	logLevel     string
	check        bool
	exportHosts  string
	dumpSettings bool
}

func run(args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "--version" {
		version.Fprint(stdout, "nm-proxy-daemon")
		return nil
	}

	var opts options
	flagSet := pflag.NewFlagSet("nm-proxy-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+", then nm-proxy/config.yaml under the XDG config dirs)")
	flagSet.StringVar(&opts.logFormat, "log-format", "auto", "log output format: auto, text or json (auto is text on a terminal, json otherwise)")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "minimum log level: debug, info, warn, error")
	flagSet.BoolVar(&opts.check, "check", false, "validate the configuration and exit")
	flagSet.StringVar(&opts.exportHosts, "export-hosts", "", "write the resolved host table to this settings file and exit")
	flagSet.BoolVar(&opts.dumpSettings, "dump-settings", false, "print the settings file in CBOR diagnostic notation and exit")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	logger, err := newLogger(os.Stderr, opts.logFormat, opts.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, source, err := loadConfiguration(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration %s: %w", source, err)
	}

	switch {
	case opts.check:
		fmt.Fprintf(stdout, "configuration %s is valid (%d targets)\n", source, len(cfg.Browsers))
		return nil
	case opts.dumpSettings:
		return dumpSettings(stdout, cfg.Daemon.SettingsFile)
	case opts.exportHosts != "":
		snapshot, err := exportSnapshot(cfg, logger)
		if err != nil {
			return err
		}
		if err := settings.Save(opts.exportHosts, snapshot); err != nil {
			return err
		}
		logger.Info("settings exported", "path", opts.exportHosts, "targets", len(snapshot.NativeBinaries))
		return nil
	}

	snapshot, err := settings.Load(cfg.Daemon.SettingsFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		logger.Debug("no settings file", "path", cfg.Daemon.SettingsFile)
		snapshot = settings.Settings{Version: settings.CurrentVersion}
	}

	listeners, err := activation.FromEnvironment(true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("nm-proxy-daemon starting",
		"version", version.Info(),
		"config", source,
		"sockets", listeners.Names(),
	)
	return serve(ctx, cfg, snapshot, listeners, logger)
}

// serve wires the resolver chain, relay handler and supervisor around
// an inherited listener set and runs until ctx is cancelled. Every
// target named by the configuration or the settings snapshot must have
// a socket.
func serve(ctx context.Context, cfg *config.Config, snapshot settings.Settings, listeners *activation.Set, logger *slog.Logger) error {
	known := slices.Compact(slices.Sorted(slices.Values(append(cfg.Targets(), snapshot.Targets()...))))
	if err := listeners.Require(known); err != nil {
		return err
	}
	for _, name := range listeners.Unused(known) {
		logger.Warn("socket has no configured hosts", "target", name)
	}

	chain, manifests := resolve.Build(cfg, snapshot, logger)
	if manifests != nil {
		go func() {
			if err := manifests.Watch(ctx, nil); err != nil && ctx.Err() == nil {
				logger.Warn("manifest watch stopped, rescanning on every lookup", "error", err)
			}
		}()
	}

	manager := &process.Manager{Logger: logger}
	if cfg.Daemon.HelperStderr == config.StderrInherit {
		manager.Stderr = os.Stderr
	}

	handler := &relay.Handler{
		Resolver: chain,
		Spawner:  manager,
		Options:  relay.OptionsFromConfig(cfg.Daemon),
		Logger:   logger,
	}
	super := &supervisor.Supervisor{
		Listeners:     listeners,
		Sessions:      handler,
		ShutdownGrace: cfg.Daemon.ShutdownGrace.Std(),
		Logger:        logger,
	}
	return super.Run(ctx)
}

// newLogger builds the daemon's structured logger. Under a service
// manager stderr is not a terminal, so "auto" yields JSON records for
// the journal.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var minimum slog.Level
	if err := minimum.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	handlerOptions := &slog.HandlerOptions{Level: minimum}
	if format == "auto" {
		format = "json"
		if file, ok := w.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(file.Fd())) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOptions)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOptions)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want auto, text or json)", format)
	}
}

// loadConfiguration returns the configuration and a description of
// where it came from. With no file anywhere the built-in defaults are
// used and targets come from the settings snapshot alone.
func loadConfiguration(flagValue string) (*config.Config, string, error) {
	path, err := config.Locate(flagValue)
	if errors.Is(err, config.ErrNotFound) {
		return config.LoadDefault(), "(built-in defaults)", nil
	}
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// exportSnapshot flattens configured hosts and manifest directories
// into a settings snapshot. Manifest hosts are keyed by manifest file
// name, the identifier nm-proxy-client sends by default. Configured
// hosts win over manifests they match. The snapshot records only
// executable paths, so configured args, dir and env are not carried
// over.
func exportSnapshot(cfg *config.Config, logger *slog.Logger) (settings.Settings, error) {
	snapshot := settings.Settings{Version: settings.CurrentVersion}
	for _, target := range cfg.Targets() {
		browser := cfg.Browsers[target]
		for identifier, host := range browser.Hosts {
			if len(host.Args) > 0 || host.Dir != "" || len(host.Env) > 0 {
				logger.Warn("exporting host path only", "target", target, "identifier", identifier)
			}
			snapshot.Set(target, identifier, host.Path)
		}
		if browser.ManifestDir == "" {
			continue
		}
		scan, err := manifest.ScanDirectory(browser.ManifestDir)
		if err != nil {
			return settings.Settings{}, fmt.Errorf("target %s: %w", target, err)
		}
		for _, problem := range scan.Problems {
			logger.Warn("skipping manifest", "target", target, "error", problem)
		}
		for _, found := range scan.Manifests {
			if configuredElsewhere(found, browser.Hosts) {
				continue
			}
			snapshot.Set(target, filepath.Base(found.File), found.Path)
		}
	}
	return snapshot, nil
}

// configuredElsewhere reports whether an explicit host already claims
// one of the identifiers found answers to.
func configuredElsewhere(found *manifest.Manifest, hosts map[string]config.HostConfig) bool {
	for identifier := range hosts {
		if found.Matches(identifier) {
			return true
		}
	}
	return false
}

func dumpSettings(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	notation, err := codec.Diagnose(data)
	if err != nil {
		return fmt.Errorf("settings file %s: %w", path, err)
	}
	_, err = fmt.Fprintln(w, notation)
	return err
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `nm-proxy-daemon relays native-messaging connections from sandboxed
browsers to helper processes on the host.

It must be started by socket activation. Each inherited socket named
nm-proxy-<target>.socket serves the hosts configured for <target>.

Usage:
  nm-proxy-daemon [flags]

Flags:
`)
	flagSet.PrintDefaults()
}
