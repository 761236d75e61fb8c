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

package modrinth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/metacache"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v2/version_files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "instance-core-test/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]mrVersion{
			"deadbeef": {
				ID:            "ver-1",
				ProjectID:     "proj-1",
				VersionNumber: "1.2.3",
				VersionType:   "release",
				GameVersions:  []string{"1.20.1"},
				Loaders:       []string{"fabric"},
				Files: []versionFile{
					{URL: "https://cdn.example/examplemod-1.2.3.jar", Filename: "examplemod-1.2.3.jar", Primary: true},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/v2/projects", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]mrProject{
			{ID: "proj-1", Slug: "example-mod", Title: "Example Mod", IconURL: "https://cdn.example/icon.png"},
		})
	})

	return httptest.NewServer(mux)
}

func TestLookupByHashMatchesAndEnriches(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c := NewWithBaseURL("instance-core-test/1.0", srv.URL+"/v2")

	result, err := c.LookupByHash(context.Background(), []string{"deadbeef"})
	require.NoError(t, err)
	require.Len(t, result, 1)

	meta := result["deadbeef"]
	assert.Equal(t, "Example Mod", meta.Name)
	assert.Equal(t, "example-mod", meta.Slug)
	assert.Equal(t, "examplemod-1.2.3.jar", meta.Filename)
	assert.Equal(t, instance.Stable, meta.Channel)
	require.Len(t, meta.UpdatePaths, 1)
	assert.Equal(t, "1.20.1", meta.UpdatePaths[0].GameVersion)
	assert.Equal(t, "fabric", meta.UpdatePaths[0].Loader)
}

func TestLookupByHashReturnsNilWhenEmpty(t *testing.T) {
	c := NewWithBaseURL("instance-core-test/1.0", "http://127.0.0.1:0")

	result, err := c.LookupByHash(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestPrimaryFileFallsBackToFirst(t *testing.T) {
	files := []versionFile{
		{Filename: "other.jar"},
		{Filename: "also-not-primary.jar"},
	}
	f, ok := primaryFile(files)
	require.True(t, ok)
	assert.Equal(t, "other.jar", f.Filename)
}

func TestFetchIconDownloadsBytes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/icon.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fake-icon-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWithBaseURL("instance-core-test/1.0", srv.URL+"/v2")

	data, err := c.FetchIcon(context.Background(), metacache.ModMetadata{IconURL: srv.URL + "/icon.png"})
	require.NoError(t, err)
	assert.Equal(t, "fake-icon-bytes", string(data))
}
