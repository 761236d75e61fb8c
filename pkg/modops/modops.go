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

// Package modops implements single-mod operations: installing a
// specific mod version, finding and applying an update along the
// instance's allowed channels, and enable/delete wrappers. These are
// the operations a user triggers outside of full modpack reconciliation,
// composing the downloader for fetching and modindex for the on-disk
// enable/disable/delete primitives, plus metacache for update-channel
// comparison.
//
// This package has no persistence layer and so addresses a mod by its
// canonical mods/ filename, the same identity modindex.Index already
// keys on.
package modops

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/downloader"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/metacache"
	"github.com/zaparoo-labs/instance-core/pkg/modindex"
	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

// Remote is one resolved, installable mod file from either platform:
// enough to build a downloader.Downloadable plus the project/file
// identity needed for "replaces" bookkeeping when it supersedes an
// existing file.
type Remote struct {
	Filename  string
	URL       string
	SHA1      string
	Size      int64
	Platform  string // metacache.Curseforge or metacache.Modrinth
	ProjectID string
	FileID    string
}

// InstallMod downloads remote into the instance's mods directory,
// replacing a previously installed file (by filename) once the new one
// is verified. An empty replaces means this is a fresh install, not an
// update.
func InstallMod(ctx context.Context, fs afero.Fs, pth paths.Instance, scheduler *downloader.Scheduler, remote Remote, replaces string, task *tasks.Task) error {
	sub := task.Subtask("install " + remote.Filename)
	sub.StartOpaque()

	dl := downloader.Downloadable{
		URL:      remote.URL,
		DestPath: pth.Mods() + "/" + remote.Filename,
	}
	if remote.SHA1 != "" {
		dl.HashAlgo = downloader.HashSHA1
		dl.ExpectedHash = remote.SHA1
	}
	if remote.Size > 0 {
		dl.ExpectedSize = remote.Size
	}

	if _, err := scheduler.Run(ctx, []downloader.Downloadable{dl}, 1, downloader.Download, nil); err != nil {
		sub.Fail(err)
		return fmt.Errorf("modops: installing %s: %w", remote.Filename, err)
	}

	if replaces != "" && replaces != remote.Filename {
		if err := modindex.New(fs).DeleteMod(pth.Mods(), replaces); err != nil {
			sub.Fail(err)
			return fmt.Errorf("modops: removing replaced mod %s: %w", replaces, err)
		}
	}

	sub.CompleteOpaque()
	return nil
}

// UpdateCandidate is one newer version available for an installed mod
// along an allowed update channel.
type UpdateCandidate struct {
	Remote  Remote
	Channel instance.ReleaseChannel
}

// FindModUpdate resolves the best available update for an installed
// mod's cached metadata against the instance's update paths and channel
// preference: the highest channel the instance allows that is still >=
// the mod's current channel. ok is false when no eligible update exists.
func FindModUpdate(meta metacache.ModMetadata, candidates []UpdateCandidate, sources instance.ModSources) (UpdateCandidate, bool) {
	allowed := make(map[instance.ReleaseChannel]bool, len(sources.Channels))
	for _, pref := range sources.Channels {
		if pref.AllowUpdates {
			allowed[pref.Channel] = true
		}
	}

	var best UpdateCandidate
	found := false
	for _, c := range candidates {
		if !allowed[c.Channel] {
			continue
		}
		if c.Channel < meta.Channel {
			continue
		}
		if !found || c.Channel > best.Channel {
			best = c
			found = true
		}
	}
	return best, found
}

// UpdateMod installs a mod's resolved update in place of its current
// file, passing the current filename as the replaced entry.
func UpdateMod(ctx context.Context, fs afero.Fs, pth paths.Instance, scheduler *downloader.Scheduler, currentFilename string, candidate UpdateCandidate, task *tasks.Task) error {
	return InstallMod(ctx, fs, pth, scheduler, candidate.Remote, currentFilename, task)
}

// DeleteMod removes a mod file by filename regardless of its enabled
// state.
func DeleteMod(fs afero.Fs, pth paths.Instance, filename string) error {
	if err := modindex.New(fs).DeleteMod(pth.Mods(), filename); err != nil {
		return fmt.Errorf("modops: deleting %s: %w", filename, err)
	}
	return nil
}

// EnableMod toggles a mod file's .disabled suffix. Locking a modpack
// against edits is the caller's responsibility, since it is checked
// against instance config, not filesystem state.
func EnableMod(fs afero.Fs, pth paths.Instance, filename string, enabled bool) error {
	idx := modindex.New(fs)
	var err error
	if enabled {
		err = idx.EnableMod(pth.Mods(), filename)
	} else {
		err = idx.DisableMod(pth.Mods(), filename)
	}
	if err != nil {
		return fmt.Errorf("modops: toggling %s: %w", filename, err)
	}
	return nil
}

// ErrModpackLocked is returned by callers that check instance.ModSources
// and config state before calling any mutating operation in this
// package.
var ErrModpackLocked = &apperr.ErrConfiguration{Reason: "modpack is locked"}
