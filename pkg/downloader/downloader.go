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

// Package downloader implements a parallel download scheduler: an
// ordered batch of url/dest/hash/size records is verified or fetched
// under a shared concurrency limit, with per-chunk progress reporting
// and per-entry failure collection. Downloads are not resumed: every
// fetch starts from byte 0 into a freshly created temp file, discarding
// any partial file an earlier attempt left behind.
package downloader

import (
	"context"
	"crypto/sha1" //nolint:gosec // file integrity check, not security-sensitive
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
)

// HashAlgo selects which digest a Downloadable's ExpectedHash is in.
type HashAlgo int

const (
	HashNone HashAlgo = iota
	HashSHA1
	HashSHA256
	HashSHA512
)

func newHasher(algo HashAlgo) hash.Hash {
	switch algo {
	case HashSHA1:
		return sha1.New() //nolint:gosec
	case HashSHA256:
		return sha256.New()
	case HashSHA512:
		return sha512.New()
	default:
		return nil
	}
}

// Downloadable is one entry in a download batch.
type Downloadable struct {
	URL           string
	DestPath      string
	ExpectedHash  string // lowercase hex, empty if unknown
	HashAlgo      HashAlgo
	ExpectedSize  int64 // <=0 if unknown
}

// Mode selects whether the scheduler verifies existing files or fetches
// them.
type Mode int

const (
	Verify Mode = iota
	Download
)

// Progress is a coalesced (current_bytes_sum, total_bytes_sum) update sent
// on every chunk; receivers need not observe every update.
type Progress struct {
	CurrentBytes int64
	TotalBytes   int64
}

// EntryError pairs a failed Downloadable with its error, surfaced only
// after the whole batch completes.
type EntryError struct {
	Entry Downloadable
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Entry.DestPath, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// BatchError aggregates every failed entry in a batch.
type BatchError struct {
	Failures []*EntryError
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of a batch's entries failed", len(e.Failures))
}

// Scheduler runs download/verify batches with a bounded concurrency limit.
type Scheduler struct {
	fs         afero.Fs
	httpClient *http.Client
	deepCheck  bool
}

// New constructs a Scheduler. deepCheck selects the verify-mode check
// depth: true does a full hash comparison, false compares size+mtime only.
func New(fs afero.Fs, httpClient *http.Client, deepCheck bool) *Scheduler {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Scheduler{fs: fs, httpClient: httpClient, deepCheck: deepCheck}
}

// Run executes entries under mode with concurrency limit n, reporting
// coalesced progress on progressCh (which may be nil). For Verify mode,
// downloadRequired reports true if any entry failed verification; disk is
// never mutated. For Download mode, every entry is fetched to DestPath
// (parents created, atomic rename from a temp path), and err is a
// *BatchError if any entry failed.
func (s *Scheduler) Run(
	ctx context.Context,
	entries []Downloadable,
	n int,
	mode Mode,
	progressCh chan<- Progress,
) (downloadRequired bool, err error) {
	if n < 1 {
		n = 1
	}

	var totalBytes int64
	for _, e := range entries {
		if e.ExpectedSize > 0 {
			totalBytes += e.ExpectedSize
		}
	}

	var currentBytes int64
	report := func(delta int64) {
		if progressCh == nil {
			return
		}
		cur := atomic.AddInt64(&currentBytes, delta)
		select {
		case progressCh <- Progress{CurrentBytes: cur, TotalBytes: totalBytes}:
		default:
		}
	}

	sem := semaphore.NewWeighted(int64(n))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []*EntryError
	var anyRequired atomic.Bool

	for _, e := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			return false, fmt.Errorf("downloader: acquiring semaphore: %w", err)
		}
		wg.Add(1)
		go func(e Downloadable) {
			defer wg.Done()
			defer sem.Release(1)

			var entryErr error
			switch mode {
			case Verify:
				required, verr := s.verifyEntry(e)
				if verr != nil {
					entryErr = verr
				} else if required {
					anyRequired.Store(true)
				}
			case Download:
				entryErr = s.downloadEntry(ctx, e, report)
			}

			if entryErr != nil {
				mu.Lock()
				failures = append(failures, &EntryError{Entry: e, Err: entryErr})
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()

	if len(failures) > 0 {
		return anyRequired.Load(), &BatchError{Failures: failures}
	}
	return anyRequired.Load(), nil
}

// verifyEntry checks dest_path against the expected hash/size without
// mutating disk.
func (s *Scheduler) verifyEntry(e Downloadable) (downloadRequired bool, err error) {
	info, statErr := s.fs.Stat(e.DestPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return true, nil
		}
		return true, fmt.Errorf("stat %s: %w", e.DestPath, statErr)
	}

	if e.ExpectedSize > 0 && info.Size() != e.ExpectedSize {
		return true, nil
	}

	if !s.deepCheck {
		// size+mtime check only; mtime comparison is a no-op without a
		// recorded expected mtime, so an existing file of the right size
		// is treated as present.
		return false, nil
	}

	if e.ExpectedHash == "" || e.HashAlgo == HashNone {
		return false, nil
	}

	sum, hashErr := s.hashFile(e.DestPath, e.HashAlgo)
	if hashErr != nil {
		return true, fmt.Errorf("hashing %s: %w", e.DestPath, hashErr)
	}
	if !equalHexFold(sum, e.ExpectedHash) {
		return true, nil
	}
	return false, nil
}

// downloadEntry fetches url to a temp path and atomically renames it into
// place, validating against the expected hash on completion.
func (s *Scheduler) downloadEntry(ctx context.Context, e Downloadable, report func(int64)) error {
	if err := s.fs.MkdirAll(filepath.Dir(e.DestPath), 0o755); err != nil {
		return fmt.Errorf("creating parent dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, http.NoBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", e.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		retryAfter := 0
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return &apperr.ErrRemote{Status: resp.StatusCode, Message: e.URL, RetryAfterSeconds: retryAfter}
	}

	tmpPath := e.DestPath + ".part"
	out, err := s.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	hasher := newHasher(e.HashAlgo)
	var writer io.Writer = out
	if hasher != nil {
		writer = io.MultiWriter(out, hasher)
	}

	buf := make([]byte, 32*1024)
	for {
		nr, rerr := resp.Body.Read(buf)
		if nr > 0 {
			if _, werr := writer.Write(buf[:nr]); werr != nil {
				_ = out.Close()
				return fmt.Errorf("writing %s: %w", tmpPath, werr)
			}
			report(int64(nr))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = out.Close()
			return fmt.Errorf("reading body: %w", rerr)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	if hasher != nil && e.ExpectedHash != "" {
		sum := hex.EncodeToString(hasher.Sum(nil))
		if !equalHexFold(sum, e.ExpectedHash) {
			_ = s.fs.Remove(tmpPath)
			return &apperr.ErrHashMismatch{Path: e.DestPath, Expected: e.ExpectedHash, Actual: sum}
		}
	}

	if err := s.fs.Rename(tmpPath, e.DestPath); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

func (s *Scheduler) hashFile(path string, algo HashAlgo) (string, error) {
	h := newHasher(algo)
	if h == nil {
		return "", errors.New("no hash algorithm selected")
	}
	f, err := s.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func equalHexFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func parseRetryAfter(v string) int {
	if v == "" {
		return 0
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
