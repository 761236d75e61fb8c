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

package packinfo

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func writeTree(t *testing.T, fsys afero.Fs, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := root + "/" + name
		require.NoError(t, fsys.MkdirAll(parentDir(full), 0o755))
		require.NoError(t, afero.WriteFile(fsys, full, []byte(content), 0o644))
	}
}

func parentDir(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}

func TestScanDirProducesPrefixedPaths(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/tree", map[string]string{
		"mods/a.jar":       "hello",
		"config/foo.cfg":   "bar",
		"nested/deep/x.txt": "z",
	})

	pi, err := ScanDir(fsys, "/tree", nil)
	require.NoError(t, err)
	require.Len(t, pi, 3)
	for k := range pi {
		require.Truef(t, k[0] == '/', "path %q must start with /", k)
	}
	_, ok := pi["/mods/a.jar"]
	require.True(t, ok)
}

func TestScanDirFilter(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/tree", map[string]string{
		"mods/a.jar":     "hello",
		"config/foo.cfg": "bar",
	})

	pi, err := ScanDir(fsys, "/tree", func(rel string) bool {
		return rel == "/mods/a.jar"
	})
	require.NoError(t, err)
	require.Len(t, pi, 1)
	_, ok := pi["/mods/a.jar"]
	require.True(t, ok)
}

func TestRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeTree(t, fsys, "/tree", map[string]string{
		"mods/a.jar":     "hello world",
		"config/foo.cfg": "setting=1",
	})

	pi, err := ScanDir(fsys, "/tree", nil)
	require.NoError(t, err)

	text, err := Serialize(pi)
	require.NoError(t, err)

	parsed, err := Parse(text)
	require.NoError(t, err)
	require.Equal(t, pi, parsed)
}

func TestSerializeIsSortedAndStable(t *testing.T) {
	pi := Packinfo{
		"/z": {MD5: [16]byte{1}},
		"/a": {MD5: [16]byte{2}},
		"/m": {MD5: [16]byte{3}},
	}
	text1, err := Serialize(pi)
	require.NoError(t, err)
	text2, err := Serialize(pi)
	require.NoError(t, err)
	require.Equal(t, text1, text2)

	require.Equal(t, []string{"/a", "/m", "/z"}, pi.Paths())
}

// TestPackinfoRoundTripProperty checks that for every directory tree T,
// parse(serialize(scan_dir(T))) == scan_dir(T).
func TestPackinfoRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fsys := afero.NewMemMapFs()
		n := rapid.IntRange(0, 12).Draw(rt, "n")
		for i := range n {
			name := fmt.Sprintf("/tree/d%d/f%d.dat", i%3, i)
			content := rapid.StringN(0, 64, -1).Draw(rt, "content")
			require.NoError(rt, fsys.MkdirAll(parentDir(name), 0o755))
			require.NoError(rt, afero.WriteFile(fsys, name, []byte(content), 0o644))
		}

		scanned, err := ScanDir(fsys, "/tree", nil)
		require.NoError(rt, err)

		text, err := Serialize(scanned)
		require.NoError(rt, err)

		parsed, err := Parse(text)
		require.NoError(rt, err)

		if len(parsed) != len(scanned) {
			rt.Fatalf("round trip changed entry count: %d != %d", len(parsed), len(scanned))
		}
		for k, v := range scanned {
			pv, ok := parsed[k]
			if !ok || pv.MD5 != v.MD5 {
				rt.Fatalf("round trip mismatch for %s", k)
			}
		}
	})
}
