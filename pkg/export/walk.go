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

package export

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// cloneFilter deep-copies a Filter tree so resolveCachedMods can mutate its
// copy (removing entries it pulls into the manifest's files list) without
// surprising a caller who reuses the same Filter value across exports.
func cloneFilter(f Filter) Filter {
	out := Filter{Entries: make(map[string]*Filter, len(f.Entries))}
	for name, sub := range f.Entries {
		if sub == nil {
			out.Entries[name] = nil
			continue
		}
		clone := cloneFilter(*sub)
		out.Entries[name] = &clone
	}
	return out
}

// countIncluded counts every regular file that walkIncluded would visit,
// without reading any file contents (modrinth_archive.rs's ZipMode::Count
// pass, used to size the progress bar before the real zip-writing pass).
func countIncluded(fs afero.Fs, basePath string, filter Filter) (int, error) {
	count := 0
	err := walkFilterTree(fs, basePath, &filter, func(string, string) error {
		count++
		return nil
	})
	return count, err
}

// walkIncluded walks basePath applying filter, invoking visit(archivePath,
// diskPath) for every included regular file. archivePath is prefixed with
// prefix (e.g. "overrides") and uses forward slashes regardless of host OS.
func walkIncluded(fs afero.Fs, basePath, prefix string, filter Filter, visit func(archivePath, diskPath string) error) error {
	return walkFilterTreeRel(fs, basePath, &filter, nil, func(relParts []string, diskPath string) error {
		archivePath := prefix
		for _, part := range relParts {
			archivePath += "/" + part
		}
		return visit(archivePath, diskPath)
	})
}

func walkFilterTree(fs afero.Fs, basePath string, filter *Filter, visit func(relPath, diskPath string) error) error {
	return walkFilterTreeRel(fs, basePath, filter, nil, func(relParts []string, diskPath string) error {
		return visit(filepath.Join(relParts...), diskPath)
	})
}

// walkFilterTreeRel is the shared recursive walk behind countIncluded and
// walkIncluded: a directory entry is skipped unless its name is a key in
// the current filter level; a nil value for that key means "include this
// subtree entirely" (filter becomes nil below it); a non-nil value
// recurses with that as the new filter.
func walkFilterTreeRel(fs afero.Fs, dirPath string, filter *Filter, relParts []string, visit func(relParts []string, diskPath string) error) error {
	entries, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()

		subfilter, included := childFilter(filter, name)
		if !included {
			continue
		}

		childPath := filepath.Join(dirPath, name)
		childRel := append(append([]string{}, relParts...), name)

		if entry.IsDir() {
			if err := walkFilterTreeRel(fs, childPath, subfilter, childRel, visit); err != nil {
				return err
			}
			continue
		}

		if err := visit(childRel, childPath); err != nil {
			return err
		}
	}
	return nil
}

// childFilter resolves one directory entry's inclusion against the parent
// filter, returning the subfilter to apply below it (nil meaning "include
// everything") and whether the entry is included at all. A nil parent
// filter means the whole subtree is already unconditionally included.
func childFilter(parent *Filter, name string) (sub *Filter, included bool) {
	if parent == nil {
		return nil, true
	}
	sub, ok := parent.Entries[name]
	return sub, ok
}
