// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the nm-proxy daemon configuration.
//
// A single file is used, found by [Locate] in this order: the --config
// flag, the NM_PROXY_CONFIG environment variable, then
// nm-proxy/config.yaml or nm-proxy/config.toml under the XDG config
// directories. Files ending in .yaml or .yml are decoded with yaml.v3;
// files ending in .toml with BurntSushi/toml. Unknown keys are errors
// in both formats.
//
// [LoadFile] starts from [Default] and overlays the file, so a
// configuration only needs to name what it changes. Path-valued fields
// then get ${VAR}, ${VAR:-default}, and leading ~ expansion.
// ${XDG_RUNTIME_DIR} and ${XDG_CONFIG_HOME} resolve through adrg/xdg
// even when the variables are unset.
//
// Key exports:
//
//   - [Config] -- daemon settings plus one [BrowserConfig] per target
//   - [Default] -- the built-in defaults
//   - [Locate] and [LoadFile] -- finding and loading the file
//   - [Config.Validate] -- every problem at once, via errors.Join
package config
