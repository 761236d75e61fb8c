// Zaparoo Core
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Core.
//
// Zaparoo Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Core.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads the on-disk global launcher defaults merged into
// a per-instance configuration during launch. A `Values` struct is
// decoded from TOML via github.com/pelletier/go-toml/v2, held behind a
// package-level sync/atomic.Pointer and read through a small typed
// accessor, so concurrent launch pipelines never race a concurrent
// config reload.
package config

import (
	"fmt"
	"os"
	"sync/atomic"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/spf13/afero"
)

// Values is the on-disk global defaults file, `[launcher]` table.
type Values struct {
	Launcher     Launcher `toml:"launcher,omitempty"`
	ConfigSchema int      `toml:"config_schema"`
}

// Launcher holds the global defaults merged into a per-instance
// GameConfiguration during launch pipeline phase 1.
type Launcher struct {
	MemoryMB               int      `toml:"memory_mb,omitempty"`
	ResolutionWidth        int      `toml:"resolution_width,omitempty"`
	ResolutionHeight       int      `toml:"resolution_height,omitempty"`
	ExtraJavaArgs          []string `toml:"extra_java_args,omitempty,multiline"`
	PreLaunchHook          string   `toml:"pre_launch_hook,omitempty"`
	PostExitHook           string   `toml:"post_exit_hook,omitempty"`
	WrapperCommand         string   `toml:"wrapper_command,omitempty"`
	AutoManageJava         bool     `toml:"auto_manage_java,omitempty"`
	AutoManageJavaProfiles bool     `toml:"auto_manage_java_system_profiles,omitempty"`
	DownloadConcurrency    int      `toml:"download_concurrency,omitempty"`
}

// SchemaVersion is the current on-disk config_schema value.
const SchemaVersion = 1

// Defaults holds the values a freshly created config file starts from.
var Defaults = Values{
	ConfigSchema: SchemaVersion,
	Launcher: Launcher{
		MemoryMB:            4096,
		ResolutionWidth:     854,
		ResolutionHeight:    480,
		DownloadConcurrency: 8,
		AutoManageJava:      true,
	},
}

var current atomic.Pointer[Values]

func init() {
	v := Defaults
	current.Store(&v)
}

// Get returns the currently loaded Values. Safe for concurrent use.
func Get() Values {
	return *current.Load()
}

// Set installs v as the current in-memory config (for tests and explicit
// reloads without touching disk).
func Set(v Values) {
	current.Store(&v)
}

// Load reads path via fsys, merges it over Defaults, installs the result
// as current, and returns it. A missing file is not an error: Defaults
// alone are installed, as on a fresh startup with no config written yet.
func Load(fsys afero.Fs, path string) (Values, error) {
	v := Defaults
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			current.Store(&v)
			return v, nil
		}
		return Values{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return Values{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	current.Store(&v)
	return v, nil
}

// Save serializes v as TOML and writes it to path via fsys.
func Save(fsys afero.Fs, path string, v Values) error {
	data, err := toml.Marshal(v)
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
