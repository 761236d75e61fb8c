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

// Package javamgr implements the profile-matching, version-comparison,
// and auto-install decision logic the launch pipeline needs to resolve a
// usable Java runtime. The actual enumeration of installed JDKs on disk
// is delegated to a Discoverer, an external, OS-specific collaborator;
// this package owns only the decisions that sit on top of that
// enumeration.
package javamgr

import (
	"context"
	"fmt"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

// Profile names a Java runtime component, matching the resolved version
// manifest's `java_version.component` field (e.g. "jre-legacy",
// "java-runtime-gamma").
type Profile string

const (
	LegacyProfile Profile = "jre-legacy"
	AlphaProfile  Profile = "java-runtime-alpha"
	BetaProfile   Profile = "java-runtime-beta"
	GammaProfile  Profile = "java-runtime-gamma"
	DeltaProfile  Profile = "java-runtime-delta"
)

// Installation is one discovered or installed Java runtime.
type Installation struct {
	Profile Profile
	Path    string // path to the java executable
	Version string
}

// Discoverer enumerates and installs Java runtimes. The OS-specific
// implementation is an external collaborator; this package only
// consumes the interface.
type Discoverer interface {
	// Discover returns every Java installation this host already has for
	// the given profile, if any.
	Discover(ctx context.Context, profile Profile) ([]Installation, error)
	// Install downloads and extracts a managed Java runtime for profile,
	// reporting download and extract progress on task.
	Install(ctx context.Context, profile Profile, task *tasks.Task) (Installation, error)
}

// RequiredProfile resolves the Java profile a resolved version manifest
// requires, applying the Forge-on-1.16.5 special case: manifestComponent
// is the version manifest's `java_version.component` value; release and
// hasForge describe the instance's resolved game version.
func RequiredProfile(manifestComponent, release string, hasForge bool) Profile {
	if hasForge && release == "1.16.5" {
		return LegacyProfile
	}
	if manifestComponent == "" {
		return LegacyProfile
	}
	return Profile(manifestComponent)
}

// Resolve implements the override/auto-manage decision tree:
//
//   - an explicit overridePath always wins, UNLESS autoManage is on and
//     overrideProfile already equals required (in which case the
//     override is redundant and we still look up/install normally so a
//     managed runtime stays managed);
//   - otherwise, look up an existing usable installation for required;
//   - if none exists and autoManage is on, install one;
//   - if none exists and autoManage is off, fail with ErrConfiguration.
func Resolve(
	ctx context.Context,
	disco Discoverer,
	required Profile,
	overridePath string,
	overrideProfile Profile,
	autoManage bool,
	task *tasks.Task,
) (Installation, error) {
	if overridePath != "" && !(autoManage && overrideProfile == required) {
		return Installation{Profile: overrideProfile, Path: overridePath}, nil
	}

	found, err := disco.Discover(ctx, required)
	if err != nil {
		return Installation{}, fmt.Errorf("javamgr: discovering %s: %w", required, err)
	}
	if len(found) > 0 {
		return found[0], nil
	}

	if !autoManage {
		return Installation{}, &apperr.ErrConfiguration{
			Reason: fmt.Sprintf("no usable Java runtime found for profile %q and auto-management is disabled", required),
		}
	}

	install, err := disco.Install(ctx, required, task)
	if err != nil {
		return Installation{}, fmt.Errorf("javamgr: installing %s: %w", required, err)
	}
	return install, nil
}
