// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/nmproxy/lib/codec"
)

func sampleSettings() Settings {
	var settings Settings
	settings.Set("firefox", "kdeplas", "/usr/bin/plasma-browser-integration-host")
	settings.Set("firefox", "org.keepassxc.keepassxc_browser", "/usr/bin/keepassxc-proxy")
	settings.Set("chromium", "kdeplas", "/usr/bin/plasma-browser-integration-host")
	return settings
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nm-proxy-settings.cbor")

	if err := Save(path, sampleSettings()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", loaded.Version, CurrentVersion)
	}
	executable, ok := loaded.Lookup("firefox", "org.keepassxc.keepassxc_browser")
	if !ok || executable != "/usr/bin/keepassxc-proxy" {
		t.Errorf("Lookup = %q, %v", executable, ok)
	}
	if _, ok := loaded.Lookup("chromium", "org.keepassxc.keepassxc_browser"); ok {
		t.Error("Lookup found a host registered only for another target")
	}
	if got := loaded.Targets(); !slices.Equal(got, []string{"chromium", "firefox"}) {
		t.Errorf("Targets() = %v", got)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cbor")
	if err := Save(path, sampleSettings()); err != nil {
		t.Fatal(err)
	}

	var replacement Settings
	replacement.Set("brave", "kdeplas", "/opt/host")
	if err := Save(path, replacement); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Targets(); !slices.Equal(got, []string{"brave"}) {
		t.Errorf("Targets() after overwrite = %v, want [brave]", got)
	}
}

func TestSavePermissionsAndNoTemporaryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cbor")
	if err := Save(path, sampleSettings()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if permissions := info.Mode().Perm(); permissions != 0o600 {
		t.Errorf("permissions = %04o, want 0600", permissions)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary file still exists after Save")
	}
}

func TestSaveParentDirectoryMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.cbor")
	if err := Save(path, sampleSettings()); err == nil {
		t.Fatal("Save into a missing directory should fail")
	}
}

func TestLoadNonexistent(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cbor"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(absent) error = %v, want ErrNotExist", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cbor")
	if err := os.WriteFile(path, []byte{0xFF, 0x00}, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Errorf("Load(corrupt) error = %v, want parse error naming the file", err)
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	data, err := codec.Marshal(Settings{Version: CurrentVersion + 1})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "settings.cbor")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "format version") {
		t.Errorf("Load(newer) error = %v", err)
	}
}

func TestLoadRejectsEmptyEntries(t *testing.T) {
	data, err := codec.Marshal(Settings{
		Version:        CurrentVersion,
		NativeBinaries: map[string]map[string]string{"firefox": {"kdeplas": ""}},
	})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "settings.cbor")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "firefox") {
		t.Errorf("Load(empty entry) error = %v", err)
	}
}
