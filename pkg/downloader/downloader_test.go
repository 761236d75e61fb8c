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

package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestVerifyReportsMissingFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys, nil, true)

	required, err := s.Run(context.Background(), []Downloadable{
		{URL: "http://example.invalid/a", DestPath: "/dest/a.jar", ExpectedSize: 5},
	}, 2, Verify, nil)

	require.NoError(t, err)
	assert.True(t, required)
}

func TestVerifySizeMismatchRequiresDownload(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/dest/a.jar", []byte("short"), 0o644))
	s := New(fsys, nil, false)

	required, err := s.Run(context.Background(), []Downloadable{
		{URL: "http://example.invalid/a", DestPath: "/dest/a.jar", ExpectedSize: 999},
	}, 1, Verify, nil)

	require.NoError(t, err)
	assert.True(t, required)
}

func TestVerifyDeepHashMatch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	content := "hello world"
	require.NoError(t, afero.WriteFile(fsys, "/dest/a.jar", []byte(content), 0o644))
	s := New(fsys, nil, true)

	required, err := s.Run(context.Background(), []Downloadable{
		{
			URL:          "http://example.invalid/a",
			DestPath:     "/dest/a.jar",
			ExpectedSize: int64(len(content)),
			ExpectedHash: sha256Hex(content),
			HashAlgo:     HashSHA256,
		},
	}, 1, Verify, nil)

	require.NoError(t, err)
	assert.False(t, required)
}

func TestVerifyDoesNotMutateDisk(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := New(fsys, nil, true)

	_, err := s.Run(context.Background(), []Downloadable{
		{URL: "http://example.invalid/a", DestPath: "/dest/missing.jar", ExpectedSize: 5},
	}, 1, Verify, nil)
	require.NoError(t, err)

	exists, err := afero.Exists(fsys, "/dest/missing.jar")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadFetchesAndRenamesAtomically(t *testing.T) {
	const body = "the quick brown fox"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	fsys := afero.NewMemMapFs()
	s := New(fsys, srv.Client(), true)

	progressCh := make(chan Progress, 16)
	_, err := s.Run(context.Background(), []Downloadable{
		{
			URL:          srv.URL,
			DestPath:     "/dest/fox.txt",
			ExpectedSize: int64(len(body)),
			ExpectedHash: sha256Hex(body),
			HashAlgo:     HashSHA256,
		},
	}, 2, Download, progressCh)
	require.NoError(t, err)

	got, err := afero.ReadFile(fsys, "/dest/fox.txt")
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	exists, err := afero.Exists(fsys, "/dest/fox.txt.part")
	require.NoError(t, err)
	assert.False(t, exists, "temp file must not survive a successful download")
}

func TestDownloadHashMismatchLeavesNoPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("actual content"))
	}))
	defer srv.Close()

	fsys := afero.NewMemMapFs()
	s := New(fsys, srv.Client(), true)

	_, err := s.Run(context.Background(), []Downloadable{
		{
			URL:          srv.URL,
			DestPath:     "/dest/bad.txt",
			ExpectedHash: sha256Hex("wrong content"),
			HashAlgo:     HashSHA256,
		},
	}, 1, Download, nil)

	require.Error(t, err)
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failures, 1)

	exists, statErr := afero.Exists(fsys, "/dest/bad.txt")
	require.NoError(t, statErr)
	assert.False(t, exists)
	partExists, statErr := afero.Exists(fsys, "/dest/bad.txt.part")
	require.NoError(t, statErr)
	assert.False(t, partExists)
}

func TestDownloadBatchSurfacesAllFailuresAfterCompletion(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer okSrv.Close()
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer failSrv.Close()

	fsys := afero.NewMemMapFs()
	s := New(fsys, http.DefaultClient, true)

	_, err := s.Run(context.Background(), []Downloadable{
		{URL: okSrv.URL, DestPath: "/dest/good.txt"},
		{URL: failSrv.URL, DestPath: "/dest/bad1.txt"},
		{URL: failSrv.URL, DestPath: "/dest/bad2.txt"},
	}, 3, Download, nil)

	require.Error(t, err)
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Len(t, batchErr.Failures, 2)

	exists, statErr := afero.Exists(fsys, "/dest/good.txt")
	require.NoError(t, statErr)
	assert.True(t, exists, "successful entries in a failed batch must still be committed")
}

func TestDownloadRespectsConcurrencyLimit(t *testing.T) {
	var fs2 = afero.NewMemMapFs()
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	s := New(fs2, srv.Client(), false)
	entries := make([]Downloadable, 0, 20)
	for i := range 20 {
		entries = append(entries, Downloadable{URL: srv.URL, DestPath: destName(i)})
	}

	_, err := s.Run(context.Background(), entries, 4, Download, nil)
	require.NoError(t, err)

	for i := range 20 {
		exists, statErr := afero.Exists(fs2, destName(i))
		require.NoError(t, statErr)
		assert.True(t, exists)
	}
	assert.LessOrEqual(t, maxInFlight.Load(), int32(4))
}

func destName(i int) string {
	return "/dest/file" + string(rune('a'+i)) + ".txt"
}
