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

// Package paths resolves the canonical on-disk layout for an instance.
// It is pure and side-effect-free: every function is a string join with
// no filesystem access.
//
// Every exported function returns a path confined to root: shortpath is
// cleaned and any ".." segments are stripped before joining, so no
// combination of inputs can escape root regardless of what a caller
// passes as shortpath.
package paths

import (
	"path/filepath"
	"strings"
)

// Instance resolves the canonical per-instance paths rooted at root.
type Instance struct {
	Shortpath string

	root string
}

// confine strips any path-traversal segments from shortpath so the
// resolved instance directory can never leave root.
func confine(shortpath string) string {
	cleaned := filepath.ToSlash(filepath.Clean("/" + shortpath))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "." || cleaned == "" {
		return "instance"
	}
	return filepath.FromSlash(cleaned)
}

// New resolves the path set for an instance shortpath under root.
func New(root, shortpath string) Instance {
	return Instance{root: root, Shortpath: confine(shortpath)}
}

// Root is the instance's own directory: <root>/instances/<shortpath>.
func (p Instance) Root() string {
	return filepath.Join(p.root, "instances", p.Shortpath)
}

// Setup is the `.setup` staging/marker directory.
func (p Instance) Setup() string { return filepath.Join(p.Root(), ".setup") }

// InstallAudit is the `.install_audit` directory written after each
// reconciliation.
func (p Instance) InstallAudit() string { return filepath.Join(p.Root(), ".install_audit") }

// Data is the game data root, `instance/instance`.
func (p Instance) Data() string { return filepath.Join(p.Root(), "instance") }

// Mods is the mods directory within the data root.
func (p Instance) Mods() string { return filepath.Join(p.Data(), "mods") }

// Saves is the saves directory within the data root.
func (p Instance) Saves() string { return filepath.Join(p.Data(), "saves") }

// Resourcepacks is the resourcepacks directory.
func (p Instance) Resourcepacks() string { return filepath.Join(p.Data(), "resourcepacks") }

// Texturepacks is the (legacy pre-1.7) texturepacks directory.
func (p Instance) Texturepacks() string { return filepath.Join(p.Data(), "texturepacks") }

// Shaderpacks is the shaderpacks directory.
func (p Instance) Shaderpacks() string { return filepath.Join(p.Data(), "shaderpacks") }

// Plugins is the plugins directory (server-side loaders).
func (p Instance) Plugins() string { return filepath.Join(p.Data(), "plugins") }

// GDLLogs is the directory holding one log file per run.
func (p Instance) GDLLogs() string { return filepath.Join(p.Root(), "gdl_logs") }

// Libraries is the shared libraries directory for this instance.
func (p Instance) Libraries() string { return filepath.Join(p.Root(), "libraries") }

// Assets is the asset objects/indexes directory.
func (p Instance) Assets() string { return filepath.Join(p.Root(), "assets") }

// Natives is the per-instance extracted-natives directory.
func (p Instance) Natives() string { return filepath.Join(p.Root(), "natives") }

// ClientJar resolves the path to the (possibly patched) client jar for a
// given resolved version id.
func (p Instance) ClientJar(versionID string) string {
	return filepath.Join(p.Root(), "versions", versionID, versionID+".jar")
}

// Temp is a scratch directory for in-progress downloads/extractions.
func (p Instance) Temp() string { return filepath.Join(p.Root(), "temp") }

// Packinfo is the authoritative manifest path.
func (p Instance) Packinfo() string { return filepath.Join(p.Root(), "packinfo.json") }

// TmpPackinfo is the staged manifest path, promoted to Packinfo on commit.
func (p Instance) TmpPackinfo() string { return filepath.Join(p.Root(), "tmp-packinfo.json") }

// InstanceJSON is the per-instance config file.
func (p Instance) InstanceJSON() string { return filepath.Join(p.Root(), "instance.json") }

// StagingRoot is `.setup/staging/instance`, the scratch tree C7 builds.
func (p Instance) StagingRoot() string { return filepath.Join(p.Setup(), "staging", "instance") }

// StagingPackinfo is `.setup/staging-packinfo.json`.
func (p Instance) StagingPackinfo() string { return filepath.Join(p.Setup(), "staging-packinfo.json") }

// ModpackSkipOverridesMarker is `.setup/modpack-skip-overrides`.
func (p Instance) ModpackSkipOverridesMarker() string {
	return filepath.Join(p.Setup(), "modpack-skip-overrides")
}

// ModpackCompleteMarker is `.setup/modpack-complete`.
func (p Instance) ModpackCompleteMarker() string { return filepath.Join(p.Setup(), "modpack-complete") }

// ChangePackVersionFile is `.setup/change-pack-version.json`, the pending
// modpack change spec.
func (p Instance) ChangePackVersionFile() string {
	return filepath.Join(p.Setup(), "change-pack-version.json")
}

// ModpackBundleDir resolves `.setup/curseforge` or `.setup/modrinth`
// depending on which platform the archive came from.
func (p Instance) ModpackBundleDir(platform string) string {
	return filepath.Join(p.Setup(), platform)
}

// AuditFile is `.install_audit/audit.txt`.
func (p Instance) AuditFile() string { return filepath.Join(p.InstallAudit(), "audit.txt") }
