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

package modindex

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMurmur2StripsWhitespace(t *testing.T) {
	// whitespace bytes are stripped before hashing; these two inputs must
	// therefore produce the same fingerprint.
	a := curseForgeMurmur2([]byte("hello world"))
	b := curseForgeMurmur2([]byte("helloworld"))
	assert.Equal(t, a, b)
	assert.NotZero(t, a)
}

func TestScanProducesHashesForEnabledAndDisabled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/mods", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/mods/a.jar", []byte("content-a"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/mods/b.jar.disabled", []byte("content-b"), 0o644))

	idx := New(fsys)
	result, err := idx.Scan("/mods")
	require.NoError(t, err)
	require.Len(t, result, 2)

	a := result["a.jar"]
	assert.True(t, a.Enabled)
	assert.NotEmpty(t, a.SHA1)
	assert.NotEmpty(t, a.SHA512)

	b := result["b.jar"]
	assert.False(t, b.Enabled)
}

func TestScanReusesCacheWhenUnchanged(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/mods", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/mods/a.jar", []byte("content-a"), 0o644))

	idx := New(fsys)
	first, err := idx.Scan("/mods")
	require.NoError(t, err)

	second, err := idx.Scan("/mods")
	require.NoError(t, err)
	assert.Equal(t, first["a.jar"], second["a.jar"])
}

func TestScanDropsRemovedFilesFromCache(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/mods", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/mods/a.jar", []byte("content-a"), 0o644))

	idx := New(fsys)
	_, err := idx.Scan("/mods")
	require.NoError(t, err)
	require.NoError(t, fsys.Remove("/mods/a.jar"))

	result, err := idx.Scan("/mods")
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Empty(t, idx.cache)
}

func TestEnableDisableDeleteMod(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/mods", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/mods/a.jar", []byte("x"), 0o644))

	idx := New(fsys)

	require.NoError(t, idx.DisableMod("/mods", "a.jar"))
	exists, err := afero.Exists(fsys, "/mods/a.jar.disabled")
	require.NoError(t, err)
	assert.True(t, exists)

	require.Error(t, idx.DisableMod("/mods", "a.jar"))

	require.NoError(t, idx.EnableMod("/mods", "a.jar"))
	exists, err = afero.Exists(fsys, "/mods/a.jar")
	require.NoError(t, err)
	assert.True(t, exists)

	require.Error(t, idx.EnableMod("/mods", "a.jar"))

	require.NoError(t, idx.DeleteMod("/mods", "a.jar"))
	exists, err = afero.Exists(fsys, "/mods/a.jar")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteModMissingIsNoOp(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/mods", 0o755))
	idx := New(fsys)
	require.NoError(t, idx.DeleteMod("/mods", "nope.jar"))
}

func TestWatchDirDebouncesIntoOneCallback(t *testing.T) {
	dir := t.TempDir()

	callCount := 0
	done := make(chan struct{}, 8)
	w, err := WatchDir(dir, 50*time.Millisecond, func() {
		callCount++
		done <- struct{}{}
	})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, afero.WriteFile(afero.NewOsFs(), dir+"/one.jar", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(afero.NewOsFs(), dir+"/two.jar", []byte("y"), 0o644))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced callback")
	}
	assert.Equal(t, 1, callCount)
}
