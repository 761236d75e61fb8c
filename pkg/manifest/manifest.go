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

// Package manifest parses the CurseForge `manifest.json` and Modrinth
// `modrinth.index.json` modpack bundle formats into typed structs; the
// stager turns their file entries into downloader entries.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
)

// CurseForgeManifest is the subset of CurseForge's manifest.json this
// engine needs: the Minecraft version/modloader pairing and the list of
// project/file ids to resolve into download URLs.
type CurseForgeManifest struct {
	Minecraft struct {
		Version    string `json:"version"`
		ModLoaders []struct {
			ID      string `json:"id"`
			Primary bool   `json:"primary"`
		} `json:"modLoaders"`
	} `json:"minecraft"`
	ManifestType    string `json:"manifestType"`
	ManifestVersion int    `json:"manifestVersion"`
	Name            string `json:"name"`
	Overrides       string `json:"overrides"`
	Files           []struct {
		ProjectID int  `json:"projectID"`
		FileID    int  `json:"fileID"`
		Required  bool `json:"required"`
	} `json:"files"`
}

// ParseCurseForgeManifest parses a CurseForge manifest.json payload.
func ParseCurseForgeManifest(data []byte) (CurseForgeManifest, error) {
	var m CurseForgeManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return CurseForgeManifest{}, fmt.Errorf("manifest: parsing curseforge manifest: %w", err)
	}
	return m, nil
}

// GameVersion resolves the manifest's Minecraft release and loader
// pairing into the engine's GameVersion value.
func (m CurseForgeManifest) GameVersion() instance.GameVersion {
	loaders := make([]instance.ModLoader, 0, len(m.Minecraft.ModLoaders))
	for _, l := range m.Minecraft.ModLoaders {
		typ, version := splitLoaderID(l.ID)
		loaders = append(loaders, instance.ModLoader{Type: typ, Version: version})
	}
	return instance.StandardGameVersion(m.Minecraft.Version, loaders...)
}

// splitLoaderID splits a CurseForge loader id like "forge-47.2.0" into its
// type and version.
func splitLoaderID(id string) (instance.ModLoaderType, string) {
	for _, prefix := range []instance.ModLoaderType{instance.NeoForge, instance.Forge, instance.Fabric, instance.Quilt} {
		p := string(prefix) + "-"
		if len(id) > len(p) && id[:len(p)] == p {
			return prefix, id[len(p):]
		}
	}
	return instance.ModLoaderType(id), ""
}

// ModrinthIndex is the subset of Modrinth's modrinth.index.json this
// engine needs.
type ModrinthIndex struct {
	FormatVersion int    `json:"formatVersion"`
	Game          string `json:"game"`
	Name          string `json:"name"`
	Dependencies  map[string]string `json:"dependencies"`
	Files         []ModrinthIndexFile `json:"files"`
}

// ModrinthIndexFile is one file entry in a modrinth.index.json, already
// resolving to a concrete downloadable (unlike CurseForge, which needs a
// project/file-id lookup).
type ModrinthIndexFile struct {
	Path      string            `json:"path"`
	Hashes    map[string]string `json:"hashes"`
	Downloads []string          `json:"downloads"`
	FileSize  int64             `json:"fileSize"`
	Env       *struct {
		Client string `json:"client"`
		Server string `json:"server"`
	} `json:"env"`
}

// ParseModrinthIndex parses a modrinth.index.json payload.
func ParseModrinthIndex(data []byte) (ModrinthIndex, error) {
	var idx ModrinthIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return ModrinthIndex{}, fmt.Errorf("manifest: parsing modrinth index: %w", err)
	}
	return idx, nil
}

// modrinthLoaderKeys maps Modrinth's dependency-map loader keys to the
// engine's ModLoaderType (Modrinth uses "fabric-loader"/"quilt-loader" but
// bare "forge"/"neoforge").
var modrinthLoaderKeys = map[string]instance.ModLoaderType{
	"forge":        instance.Forge,
	"neoforge":     instance.NeoForge,
	"fabric-loader": instance.Fabric,
	"quilt-loader": instance.Quilt,
}

// GameVersion resolves the dependency map's minecraft/loader keys into the
// engine's GameVersion value.
func (idx ModrinthIndex) GameVersion() instance.GameVersion {
	release := idx.Dependencies["minecraft"]
	var loaders []instance.ModLoader
	for key, typ := range modrinthLoaderKeys {
		if v, ok := idx.Dependencies[key]; ok && v != "" {
			loaders = append(loaders, instance.ModLoader{Type: typ, Version: v})
		}
	}
	return instance.StandardGameVersion(release, loaders...)
}

// Excluded reports whether f is marked unsupported on the client, matching
// Modrinth's `env.client == "unsupported"` convention.
func (f ModrinthIndexFile) Excluded() bool {
	return f.Env != nil && f.Env.Client == "unsupported"
}

// ErrUnknownFormat is returned by the stager when neither manifest.json
// nor modrinth.index.json is present in the archive's root.
var ErrUnknownFormat = &apperr.ErrConfiguration{Reason: "modpack archive format not recognized"}
