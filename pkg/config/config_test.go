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

package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileInstallsDefaults(t *testing.T) {
	fsys := afero.NewMemMapFs()
	v, err := Load(fsys, "/config.toml")
	require.NoError(t, err)
	assert.Equal(t, Defaults, v)
	assert.Equal(t, Defaults, Get())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	fsys := afero.NewMemMapFs()
	v := Defaults
	v.Launcher.MemoryMB = 8192
	v.Launcher.ExtraJavaArgs = []string{"-XX:+UseG1GC"}

	require.NoError(t, Save(fsys, "/config.toml", v))
	loaded, err := Load(fsys, "/config.toml")
	require.NoError(t, err)
	assert.Equal(t, 8192, loaded.Launcher.MemoryMB)
	assert.Equal(t, []string{"-XX:+UseG1GC"}, loaded.Launcher.ExtraJavaArgs)
}

func TestSetOverridesCurrent(t *testing.T) {
	defer Set(Defaults)
	v := Defaults
	v.Launcher.MemoryMB = 1
	Set(v)
	assert.Equal(t, 1, Get().Launcher.MemoryMB)
}
