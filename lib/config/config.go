// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Locate] consults after the
// --config flag.
const EnvironmentVariable = "NM_PROXY_CONFIG"

// Helper stderr handling modes.
const (
	StderrInherit = "inherit"
	StderrLog     = "log"
)

// ErrNotFound is returned by [Locate] when no configuration file
// exists anywhere it looks.
var ErrNotFound = errors.New("no nm-proxy configuration file found")

// Config is the daemon configuration.
type Config struct {
	Daemon DaemonConfig `yaml:"daemon" toml:"daemon"`

	// Browsers maps target name (the socket's name with the nm-proxy-
	// prefix and .socket suffix removed) to its settings.
	Browsers map[string]BrowserConfig `yaml:"browsers" toml:"browsers"`
}

// DaemonConfig holds process-wide settings.
type DaemonConfig struct {
	// SettingsFile is the host table snapshot written by setup. A
	// missing file is not an error.
	SettingsFile string `yaml:"settings_file" toml:"settings_file"`

	// MaxHandshakeBytes bounds the handshake payload.
	MaxHandshakeBytes int `yaml:"max_handshake_bytes" toml:"max_handshake_bytes"`

	// HandshakeTimeout bounds how long a connection may take to send
	// its handshake.
	HandshakeTimeout Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`

	// StdioCloseGrace is how long a helper gets to exit on its own after
	// the relay ends, before SIGTERM.
	StdioCloseGrace Duration `yaml:"stdio_close_grace" toml:"stdio_close_grace"`

	// TerminateTimeout is how long a helper gets after SIGTERM, before
	// SIGKILL.
	TerminateTimeout Duration `yaml:"terminate_timeout" toml:"terminate_timeout"`

	// DrainTimeout bounds the socket to helper direction after the
	// helper has exited.
	DrainTimeout Duration `yaml:"drain_timeout" toml:"drain_timeout"`

	// ShutdownGrace is how long the supervisor waits for sessions to
	// finish after a termination signal before killing helpers.
	ShutdownGrace Duration `yaml:"shutdown_grace" toml:"shutdown_grace"`

	// HelperStderr is StderrInherit or StderrLog.
	HelperStderr string `yaml:"helper_stderr" toml:"helper_stderr"`

	// CheckCallers rejects sessions whose browser-supplied arguments
	// do not name a caller the host's manifest allows.
	CheckCallers bool `yaml:"check_callers" toml:"check_callers"`
}

// BrowserConfig describes one target.
type BrowserConfig struct {
	// AppID is the sandbox application ID (e.g. org.mozilla.firefox).
	// Informational; setup uses it.
	AppID string `yaml:"app_id" toml:"app_id"`

	// NMHDir is where the browser looks for manifests, relative to the
	// sandbox home. Informational; setup uses it.
	NMHDir string `yaml:"nmh_dir" toml:"nmh_dir"`

	// ManifestDir holds host-side manifests searched for identifiers
	// not listed in Hosts.
	ManifestDir string `yaml:"manifest_dir" toml:"manifest_dir"`

	// Hosts are explicit identifier to helper mappings. They take
	// precedence over the settings snapshot and ManifestDir.
	Hosts map[string]HostConfig `yaml:"hosts" toml:"hosts"`
}

// HostConfig is one explicitly configured helper.
type HostConfig struct {
	Path string   `yaml:"path" toml:"path"`
	Args []string `yaml:"args" toml:"args"`
	Dir  string   `yaml:"dir" toml:"dir"`
	Env  []string `yaml:"env" toml:"env"`

	// PassCallerArgs appends the browser-supplied arguments after Args.
	// Nil means true.
	PassCallerArgs *bool `yaml:"pass_caller_args" toml:"pass_caller_args"`
}

// PassesCallerArgs reports whether browser-supplied arguments reach
// the helper.
func (h HostConfig) PassesCallerArgs() bool {
	return h.PassCallerArgs == nil || *h.PassCallerArgs
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			SettingsFile:      "${XDG_RUNTIME_DIR}/nm-proxy-settings.cbor",
			MaxHandshakeBytes: 4096,
			HandshakeTimeout:  Duration(10 * time.Second),
			StdioCloseGrace:   Duration(200 * time.Millisecond),
			TerminateTimeout:  Duration(10 * time.Second),
			DrainTimeout:      Duration(2 * time.Second),
			ShutdownGrace:     Duration(10 * time.Second),
			HelperStderr:      StderrInherit,
		},
		Browsers: map[string]BrowserConfig{},
	}
}

// Locate returns the configuration file to load. flagValue is the
// --config flag and wins when set; a path named explicitly must exist.
// Without either the flag or NM_PROXY_CONFIG, the XDG config
// directories are searched and ErrNotFound returned when nothing is
// there.
func Locate(flagValue string) (string, error) {
	for _, explicit := range []string{flagValue, os.Getenv(EnvironmentVariable)} {
		if explicit == "" {
			continue
		}
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("configuration file: %w", err)
		}
		return explicit, nil
	}
	for _, name := range []string{"nm-proxy/config.yaml", "nm-proxy/config.yml", "nm-proxy/config.toml"} {
		if path, err := xdg.SearchConfigFile(name); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// LoadFile loads the configuration at path over [Default] and expands
// variables. It does not validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// LoadDefault returns [Default] with variables expanded, for running
// without a configuration file.
func LoadDefault() *Config {
	cfg := Default()
	cfg.expandVariables()
	return cfg
}

func (c *Config) loadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".toml":
		meta, err := toml.DecodeFile(path, c)
		if err != nil {
			return err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unsupported configuration format %q (want .yaml, .yml, or .toml)", filepath.Ext(path))
	}
}

func (c *Config) expandVariables() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = xdg.Home
	}
	vars := map[string]string{
		"XDG_RUNTIME_DIR": xdg.RuntimeDir,
		"XDG_CONFIG_HOME": xdg.ConfigHome,
		"XDG_STATE_HOME":  xdg.StateHome,
		"HOME":            home,
	}

	c.Daemon.SettingsFile = expandPath(c.Daemon.SettingsFile, vars)
	for name, browser := range c.Browsers {
		browser.ManifestDir = expandPath(browser.ManifestDir, vars)
		if len(browser.Hosts) > 0 {
			hosts := make(map[string]HostConfig, len(browser.Hosts))
			for identifier, host := range browser.Hosts {
				host.Path = expandPath(host.Path, vars)
				host.Dir = expandPath(host.Dir, vars)
				hosts[identifier] = host
			}
			browser.Hosts = hosts
		}
		c.Browsers[name] = browser
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. vars are consulted
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value := os.Getenv(name); value != "" {
			return value
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		return defaultValue
	})
}

// expandPath is expandVars plus a leading ~ meaning the home directory.
func expandPath(s string, vars map[string]string) string {
	s = expandVars(s, vars)
	if s == "~" {
		return vars["HOME"]
	}
	if strings.HasPrefix(s, "~/") {
		return filepath.Join(vars["HOME"], s[2:])
	}
	return s
}

// Targets returns the configured target names, sorted.
func (c *Config) Targets() []string {
	return slices.Sorted(maps.Keys(c.Browsers))
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Daemon.MaxHandshakeBytes < 1 || c.Daemon.MaxHandshakeBytes > 1<<20 {
		errs = append(errs, fmt.Errorf("daemon.max_handshake_bytes must be between 1 and %d, got %d", 1<<20, c.Daemon.MaxHandshakeBytes))
	}
	positive := []struct {
		key   string
		value Duration
	}{
		{"daemon.handshake_timeout", c.Daemon.HandshakeTimeout},
		{"daemon.terminate_timeout", c.Daemon.TerminateTimeout},
		{"daemon.shutdown_grace", c.Daemon.ShutdownGrace},
	}
	for _, field := range positive {
		if field.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field.key, field.value))
		}
	}
	if c.Daemon.StdioCloseGrace < 0 {
		errs = append(errs, fmt.Errorf("daemon.stdio_close_grace must not be negative, got %s", c.Daemon.StdioCloseGrace))
	}
	if c.Daemon.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("daemon.drain_timeout must not be negative, got %s", c.Daemon.DrainTimeout))
	}
	if c.Daemon.HelperStderr != StderrInherit && c.Daemon.HelperStderr != StderrLog {
		errs = append(errs, fmt.Errorf("daemon.helper_stderr must be %q or %q, got %q", StderrInherit, StderrLog, c.Daemon.HelperStderr))
	}

	for _, name := range c.Targets() {
		browser := c.Browsers[name]
		if name == "" || strings.ContainsAny(name, "/\x00") {
			errs = append(errs, fmt.Errorf("browsers: invalid target name %q", name))
		}
		for _, identifier := range slices.Sorted(maps.Keys(browser.Hosts)) {
			host := browser.Hosts[identifier]
			if identifier == "" || strings.ContainsRune(identifier, 0) {
				errs = append(errs, fmt.Errorf("browsers.%s.hosts: invalid identifier %q", name, identifier))
			}
			if host.Path == "" {
				errs = append(errs, fmt.Errorf("browsers.%s.hosts.%s.path is required", name, identifier))
			}
			for _, entry := range host.Env {
				if !strings.Contains(entry, "=") {
					errs = append(errs, fmt.Errorf("browsers.%s.hosts.%s.env entry %q is not KEY=value", name, identifier, entry))
				}
			}
		}
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as a string ("200ms", "10s") in
// configuration files.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a time.ParseDuration string. BurntSushi/toml
// decodes through it.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration for encoders.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML parses a scalar duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"10s\"", node.Line)
	}
	if err := d.UnmarshalText([]byte(node.Value)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}
