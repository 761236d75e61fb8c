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

// Package export bundles an instance's data directory into a shareable
// modpack archive. A shared filter-tree walk drives both platform
// exporters; the Modrinth exporter splits files between
// remotely-resolvable mods and locally-bundled overrides, and the
// CurseForge exporter follows the same structure with the CurseForge
// manifest.json shape defined in pkg/manifest.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/manifest"
	"github.com/zaparoo-labs/instance-core/pkg/metacache"
	"github.com/zaparoo-labs/instance-core/pkg/modindex"
	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

// Target selects the archive's manifest format.
type Target int

const (
	TargetModrinth Target = iota
	TargetCurseForge
)

// Filter is a tree selecting which paths under the instance data root
// are included in an export: a name absent from Entries is excluded
// entirely; a name present with a nil *Filter is included whole (no
// further filtering below it); a name present with a non-nil *Filter
// recurses using that as the subfilter.
type Filter struct {
	Entries map[string]*Filter
}

// Options configures one export run.
type Options struct {
	Target                      Target
	SelfContainedAddonsBundling bool
	Filter                      Filter
	PackName                    string
	GameVersion                 instance.GameVersion
}

// Store is the read-only slice of metacache.Store export needs: looking up
// a mod file's cached remote metadata by its content hash.
type Store interface {
	Get(hash string) (metacache.ModMetadata, bool, error)
}

// Export writes a modpack archive for pth's instance to dest, returning once
// the archive is fully written. task reports overall progress through
// subtasks mirroring modrinth_archive.rs: a size-calculation pass and the
// zip-writing pass itself, plus a "scan mods" pass first when mods are
// resolved against the metadata cache instead of bundled.
func Export(ctx context.Context, fs afero.Fs, pth paths.Instance, store Store, opts Options, dest afero.File, task *tasks.Task) error {
	tCalcSize := task.Subtask("calculate export size")
	tCreateBundle := task.Subtask("create export bundle")

	filter := cloneFilter(opts.Filter)
	var resolvedMods []resolvedMod

	if !opts.SelfContainedAddonsBundling {
		if _, ok := filter.Entries["mods"]; ok {
			tCalcSize.SetWeight(0.5)
			tScan := task.Subtask("scan mods")
			tScan.StartOpaque()

			var err error
			resolvedMods, err = resolveCachedMods(fs, pth, store, &filter, targetPlatform(opts.Target))
			if err != nil {
				tScan.Fail(err)
				return fmt.Errorf("export: scanning mods: %w", err)
			}
			tScan.CompleteOpaque()
		}
	}

	tCalcSize.StartOpaque()
	fileCount, err := countIncluded(fs, pth.Data(), filter)
	if err != nil {
		tCalcSize.Fail(err)
		return fmt.Errorf("export: counting files: %w", err)
	}
	tCalcSize.CompleteOpaque()
	tCreateBundle.UpdateItems(0, int64(fileCount))

	manifestBytes, manifestName, err := buildManifest(opts, resolvedMods)
	if err != nil {
		tCreateBundle.Fail(err)
		return err
	}

	zw := newZipWriter(dest)
	if err := zw.writeFile(manifestName, manifestBytes); err != nil {
		tCreateBundle.Fail(err)
		return fmt.Errorf("export: writing %s: %w", manifestName, err)
	}

	written := 0
	walkErr := walkIncluded(fs, pth.Data(), "overrides", filter, func(archivePath, diskPath string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		data, err := afero.ReadFile(fs, diskPath)
		if err != nil {
			return err
		}
		if err := zw.writeFile(archivePath, data); err != nil {
			return err
		}
		written++
		tCreateBundle.UpdateItems(int64(written), int64(fileCount))
		return nil
	})
	if walkErr != nil {
		tCreateBundle.Fail(walkErr)
		return fmt.Errorf("export: bundling overrides: %w", walkErr)
	}

	if err := zw.close(); err != nil {
		tCreateBundle.Fail(err)
		return fmt.Errorf("export: finalizing archive: %w", err)
	}
	tCreateBundle.Complete()
	return nil
}

// resolvedMod is one mod file resolved to remote metadata, pulled out of
// the overrides bundle and into the manifest's files list.
type resolvedMod struct {
	filename string
	size     int64
	sha1     string
	sha512   string
	url      string
	pid      string
	fid      string
}

// targetPlatform maps an export Target to the metacache.RemoteLookup
// platform name whose cached metadata is eligible for that target's file
// list: CurseForge's manifest.json needs CF project/file ids, Modrinth's
// index needs a Modrinth download URL, and the two caches are never
// interchangeable.
func targetPlatform(t Target) string {
	if t == TargetCurseForge {
		return metacache.Curseforge
	}
	return metacache.Modrinth
}

// resolveCachedMods handles a nil "mods" entry in parent (the whole
// directory selected wildcard): it is first materialized into an
// explicit {filename: nil} map, written back into parent so the later
// overrides walk sees the same map; every one of those filenames is
// then looked up in the metadata store by the hash matching platform's
// own convention (sha512 for Modrinth, the murmur2 fingerprint for
// CurseForge; modindex.Indexer already computes all three per file),
// and a hit is removed from the map (so the overrides walk skips it)
// and recorded as a resolved file.
func resolveCachedMods(fs afero.Fs, pth paths.Instance, store Store, parent *Filter, platform string) ([]resolvedMod, error) {
	modsFilter, err := materializeModsFilter(fs, pth, parent)
	if err != nil {
		return nil, err
	}

	index, err := modindex.New(fs).Scan(pth.Mods())
	if err != nil {
		return nil, fmt.Errorf("export: indexing mods: %w", err)
	}

	var out []resolvedMod
	for name := range modsFilter.Entries {
		meta, ok := index[name]
		if !ok {
			continue
		}

		lookupHash := meta.SHA512
		if platform == metacache.Curseforge {
			lookupHash = strconv.FormatUint(uint64(meta.Murmur2), 10)
		}

		cached, found, err := store.Get(lookupHash)
		if err != nil {
			return nil, err
		}
		if !found || cached.FileURL == "" || cached.Platform != platform {
			continue
		}

		out = append(out, resolvedMod{
			filename: name,
			size:     meta.Size,
			sha1:     meta.SHA1,
			sha512:   meta.SHA512,
			url:      cached.FileURL,
			pid:      cached.ProjectID,
			fid:      cached.FileID,
		})

		delete(modsFilter.Entries, name)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].filename < out[j].filename })
	return out, nil
}

// materializeModsFilter resolves parent.Entries["mods"], replacing a nil
// (whole-directory wildcard) value with an explicit {filename: nil} entry
// for every file actually present in the mods directory, and writes the
// result back into parent so later callers (the overrides walk) see the
// same, subsequently-mutated map.
func materializeModsFilter(fs afero.Fs, pth paths.Instance, parent *Filter) (*Filter, error) {
	existing := parent.Entries["mods"]
	if existing != nil {
		return existing, nil
	}

	entries, err := afero.ReadDir(fs, pth.Mods())
	if err != nil {
		if isNotExist(err) {
			existing = &Filter{Entries: map[string]*Filter{}}
			parent.Entries["mods"] = existing
			return existing, nil
		}
		return nil, err
	}

	materialized := &Filter{Entries: make(map[string]*Filter, len(entries))}
	for _, e := range entries {
		if !e.IsDir() {
			materialized.Entries[e.Name()] = nil
		}
	}
	parent.Entries["mods"] = materialized
	return materialized, nil
}

func buildManifest(opts Options, mods []resolvedMod) ([]byte, string, error) {
	switch opts.Target {
	case TargetCurseForge:
		return buildCurseForgeManifest(opts, mods)
	default:
		return buildModrinthManifest(opts, mods)
	}
}

func buildModrinthManifest(opts Options, mods []resolvedMod) ([]byte, string, error) {
	idx := manifest.ModrinthIndex{
		FormatVersion: 1,
		Game:          "minecraft",
		Name:          opts.PackName,
		Dependencies:  modrinthDependencies(opts.GameVersion),
		Files:         make([]manifest.ModrinthIndexFile, 0, len(mods)),
	}
	for _, m := range mods {
		idx.Files = append(idx.Files, manifest.ModrinthIndexFile{
			Path:      "mods/" + m.filename,
			Hashes:    map[string]string{"sha512": m.sha512, "sha1": m.sha1},
			Downloads: []string{m.url},
			FileSize:  m.size,
		})
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("export: marshaling modrinth.index.json: %w", err)
	}
	return data, "modrinth.index.json", nil
}

func modrinthDependencies(gv instance.GameVersion) map[string]string {
	deps := map[string]string{"minecraft": gv.Release}
	for _, l := range gv.ModLoaders {
		key := string(l.Type)
		if l.Type == instance.Fabric {
			key = "fabric-loader"
		} else if l.Type == instance.Quilt {
			key = "quilt-loader"
		}
		deps[key] = l.Version
	}
	return deps
}

func buildCurseForgeManifest(opts Options, mods []resolvedMod) ([]byte, string, error) {
	type cfFile struct {
		ProjectID int  `json:"projectID"`
		FileID    int  `json:"fileID"`
		Required  bool `json:"required"`
	}
	type cfModLoader struct {
		ID      string `json:"id"`
		Primary bool   `json:"primary"`
	}
	type cfManifest struct {
		Minecraft struct {
			Version    string        `json:"version"`
			ModLoaders []cfModLoader `json:"modLoaders"`
		} `json:"minecraft"`
		ManifestType    string   `json:"manifestType"`
		ManifestVersion int      `json:"manifestVersion"`
		Name            string   `json:"name"`
		Overrides       string   `json:"overrides"`
		Files           []cfFile `json:"files"`
	}

	var m cfManifest
	m.Minecraft.Version = opts.GameVersion.Release
	for i, l := range opts.GameVersion.ModLoaders {
		m.Minecraft.ModLoaders = append(m.Minecraft.ModLoaders, cfModLoader{
			ID:      string(l.Type) + "-" + l.Version,
			Primary: i == 0,
		})
	}
	m.ManifestType = "minecraftModpack"
	m.ManifestVersion = 1
	m.Name = opts.PackName
	m.Overrides = "overrides"
	for _, mod := range mods {
		pid, _ := strconv.Atoi(mod.pid)
		fid, _ := strconv.Atoi(mod.fid)
		m.Files = append(m.Files, cfFile{ProjectID: pid, FileID: fid, Required: true})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("export: marshaling manifest.json: %w", err)
	}
	return data, "manifest.json", nil
}
