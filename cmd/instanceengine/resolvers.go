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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/javamgr"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
	"github.com/zaparoo-labs/instance-core/pkg/versionmanifest"
)

// localVersionResolver resolves version manifests from a cache directory
// populated out-of-band (e.g. by a frontend's own Mojang-manifest
// fetcher). The actual remote "version manifest provider" is an external
// collaborator this engine does not implement; this adapter is the
// minimal local read side app.New needs to start standalone.
type localVersionResolver struct {
	fs  afero.Fs
	dir string
}

func newLocalVersionResolver(fs afero.Fs, cacheDir string) *localVersionResolver {
	return &localVersionResolver{fs: fs, dir: cacheDir}
}

func (r *localVersionResolver) readManifest(id string) (versionmanifest.Manifest, error) {
	raw, err := afero.ReadFile(r.fs, filepath.Join(r.dir, id+".json"))
	if err != nil {
		return versionmanifest.Manifest{}, &apperr.ErrConfiguration{
			Reason: fmt.Sprintf("no cached version manifest for %q", id),
		}
	}
	var m versionmanifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return versionmanifest.Manifest{}, fmt.Errorf("instanceengine: parsing cached manifest %q: %w", id, err)
	}
	return m, nil
}

func (r *localVersionResolver) ResolveBase(_ context.Context, release string) (versionmanifest.Manifest, error) {
	return r.readManifest(release)
}

func (r *localVersionResolver) ResolveLoader(_ context.Context, release string, loader instance.ModLoader) (versionmanifest.Manifest, error) {
	return r.readManifest(fmt.Sprintf("%s-%s-%s", release, loader.Type, loader.Version))
}

func (r *localVersionResolver) ResolveCustom(_ context.Context, opaqueVersion string) (versionmanifest.Manifest, error) {
	return r.readManifest(opaqueVersion)
}

// pathJavaDiscoverer finds a Java runtime already on PATH. It never
// manages/installs a runtime itself (Install always fails); a full
// managed-JDK installer is a separate, platform-specific collaborator
// this build does not carry.
type pathJavaDiscoverer struct{}

func (pathJavaDiscoverer) Discover(_ context.Context, profile javamgr.Profile) ([]javamgr.Installation, error) {
	path, err := exec.LookPath("java")
	if err != nil {
		return nil, nil
	}
	return []javamgr.Installation{{Profile: profile, Path: path}}, nil
}

func (pathJavaDiscoverer) Install(_ context.Context, profile javamgr.Profile, _ *tasks.Task) (javamgr.Installation, error) {
	return javamgr.Installation{}, &apperr.ErrConfiguration{
		Reason: fmt.Sprintf("managed install of Java profile %q is not supported by this build", profile),
	}
}
