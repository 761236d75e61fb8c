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

// Package modindex scans an instance's mods directory into a
// hash-identified file list, and provides enable/disable/delete
// operations plus directory-change notification. Each file's
// sha1/sha512/murmur2 triple is cached by canonical filename together
// with an xxhash of its (name, size, mtime), so a file already seen at
// its current (name, size, mtime) need not be rehashed. The directory watcher runs
// as a single goroutine selecting over fsnotify's Events/Errors
// channels, debouncing bursts of events into one coalesced callback.
package modindex

import (
	"crypto/sha1" //nolint:gosec // CurseForge/Modrinth fingerprint hash, not security-sensitive
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/zaparoo-labs/instance-core/pkg/apperr"
)

const disabledSuffix = ".disabled"

// FileMetadata is one mod file's identity.
type FileMetadata struct {
	// Filename is the mod's canonical (enabled) name, without any
	// .disabled suffix.
	Filename string
	Enabled  bool
	Size     int64
	SHA1     string
	SHA512   string
	Murmur2  uint32
}

// Index maps a canonical filename to its current metadata.
type Index map[string]FileMetadata

type cacheEntry struct {
	key  uint64
	meta FileMetadata
}

// Indexer scans a mods directory and tracks per-file hashes, reusing
// cached hashes across scans when a file's (name, size, mtime) key has
// not changed.
type Indexer struct {
	fs    afero.Fs
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs an Indexer over fsys.
func New(fsys afero.Fs) *Indexer {
	return &Indexer{fs: fsys, cache: make(map[string]cacheEntry)}
}

// changeKey is a cheap xxhash-based fingerprint over (filename, size,
// mtime), used to skip re-hashing a file whose directory entry hasn't
// changed since the previous scan.
func changeKey(name string, size int64, mtime time.Time) uint64 {
	h := xxhash.New()
	_, _ = io.WriteString(h, name)
	_, _ = fmt.Fprintf(h, "|%d|%d", size, mtime.UnixNano())
	return h.Sum64()
}

// Scan walks modsDir (non-recursive, per the mods/ layout convention) and
// returns the current Index. Enabled files and their disabled
// counterparts both resolve to the canonical filename.
func (idx *Indexer) Scan(modsDir string) (Index, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries, err := afero.ReadDir(idx.fs, modsDir)
	if err != nil {
		return nil, fmt.Errorf("modindex: reading %s: %w", modsDir, err)
	}

	result := make(Index)
	seen := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		enabled := !strings.HasSuffix(name, disabledSuffix)
		canonical := strings.TrimSuffix(name, disabledSuffix)
		seen[canonical] = true

		key := changeKey(name, entry.Size(), entry.ModTime())
		if cached, ok := idx.cache[canonical]; ok && cached.key == key {
			meta := cached.meta
			meta.Enabled = enabled
			result[canonical] = meta
			continue
		}

		meta, hashErr := idx.hashEntry(filepath.Join(modsDir, name), canonical, entry.Size())
		if hashErr != nil {
			return nil, fmt.Errorf("modindex: hashing %s: %w", name, hashErr)
		}
		meta.Enabled = enabled
		idx.cache[canonical] = cacheEntry{key: key, meta: meta}
		result[canonical] = meta
	}

	for canonical := range idx.cache {
		if !seen[canonical] {
			delete(idx.cache, canonical)
		}
	}

	return result, nil
}

func (idx *Indexer) hashEntry(path, canonical string, size int64) (FileMetadata, error) {
	f, err := idx.fs.Open(path)
	if err != nil {
		return FileMetadata{}, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return FileMetadata{}, err
	}

	sha1Sum := sha1.Sum(data) //nolint:gosec
	sha512Sum := sha512.Sum512(data)

	return FileMetadata{
		Filename: canonical,
		Size:     size,
		SHA1:     hex.EncodeToString(sha1Sum[:]),
		SHA512:   hex.EncodeToString(sha512Sum[:]),
		Murmur2:  curseForgeMurmur2(data),
	}, nil
}

// EnableMod renames a mod's disabled file back to its canonical name.
func (idx *Indexer) EnableMod(modsDir, filename string) error {
	return idx.toggle(modsDir, filename, true)
}

// DisableMod appends the .disabled suffix to a mod's file.
func (idx *Indexer) DisableMod(modsDir, filename string) error {
	return idx.toggle(modsDir, filename, false)
}

func (idx *Indexer) toggle(modsDir, filename string, enable bool) error {
	enabledPath := filepath.Join(modsDir, filename)
	disabledPath := enabledPath + disabledSuffix

	enabledExists, err := afero.Exists(idx.fs, enabledPath)
	if err != nil {
		return err
	}
	disabledExists, err := afero.Exists(idx.fs, disabledPath)
	if err != nil {
		return err
	}

	switch {
	case enable && enabledExists:
		return &apperr.ErrConfiguration{Reason: fmt.Sprintf("mod %q is already enabled", filename)}
	case enable && !disabledExists:
		return &apperr.ErrConfiguration{Reason: fmt.Sprintf("mod %q does not exist on disk", filename)}
	case enable:
		return idx.fs.Rename(disabledPath, enabledPath)
	case !enable && disabledExists:
		return &apperr.ErrConfiguration{Reason: fmt.Sprintf("mod %q is already disabled", filename)}
	case !enable && !enabledExists:
		return &apperr.ErrConfiguration{Reason: fmt.Sprintf("mod %q does not exist on disk", filename)}
	default:
		return idx.fs.Rename(enabledPath, disabledPath)
	}
}

// DeleteMod removes a mod file regardless of its enabled/disabled state.
func (idx *Indexer) DeleteMod(modsDir, filename string) error {
	enabledPath := filepath.Join(modsDir, filename)
	disabledPath := enabledPath + disabledSuffix

	if exists, err := afero.Exists(idx.fs, enabledPath); err != nil {
		return err
	} else if exists {
		return idx.fs.Remove(enabledPath)
	}
	if exists, err := afero.Exists(idx.fs, disabledPath); err != nil {
		return err
	} else if exists {
		return idx.fs.Remove(disabledPath)
	}
	return nil
}

// Watcher debounces fsnotify events on a mods directory into a single
// coalesced callback, so a batch of file operations (extracting a dozen
// jars) triggers one rescan instead of one per event.
type Watcher struct {
	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// WatchDir starts watching modsDir for changes, invoking onChange (at
// most once per debounce window) whenever files are created, removed, or
// renamed.
func WatchDir(modsDir string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("modindex: creating watcher: %w", err)
	}
	if err := fsw.Add(modsDir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("modindex: watching %s: %w", modsDir, err)
	}

	w := &Watcher{fsw: fsw, stopCh: make(chan struct{}), doneCh: make(chan struct{})}

	go func() {
		defer close(w.doneCh)
		var timer *time.Timer
		var timerCh <-chan time.Time

		for {
			select {
			case _, ok := <-fsw.Events:
				if !ok {
					return
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			case <-timerCh:
				timerCh = nil
				onChange()
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			case <-w.stopCh:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}
