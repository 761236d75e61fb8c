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

package javamgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

func TestRequiredProfileForcesLegacyOnForge1_16_5(t *testing.T) {
	assert.Equal(t, LegacyProfile, RequiredProfile("java-runtime-gamma", "1.16.5", true))
	assert.Equal(t, Profile("java-runtime-gamma"), RequiredProfile("java-runtime-gamma", "1.16.5", false))
	assert.Equal(t, Profile("java-runtime-gamma"), RequiredProfile("java-runtime-gamma", "1.20.1", true))
}

type stubDiscoverer struct {
	found      []Installation
	installed  Installation
	installErr error
}

func (s *stubDiscoverer) Discover(context.Context, Profile) ([]Installation, error) {
	return s.found, nil
}

func (s *stubDiscoverer) Install(context.Context, Profile, *tasks.Task) (Installation, error) {
	return s.installed, s.installErr
}

func TestResolveUsesExplicitOverrideWhenNotRedundant(t *testing.T) {
	disco := &stubDiscoverer{}
	got, err := Resolve(context.Background(), disco, GammaProfile, "/custom/java", AlphaProfile, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "/custom/java", got.Path)
}

func TestResolveIgnoresOverrideWhenRedundantWithAutoManage(t *testing.T) {
	disco := &stubDiscoverer{found: []Installation{{Profile: GammaProfile, Path: "/managed/java"}}}
	got, err := Resolve(context.Background(), disco, GammaProfile, "/custom/java", GammaProfile, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "/managed/java", got.Path)
}

func TestResolveInstallsWhenNoneFoundAndAutoManageOn(t *testing.T) {
	m, _ := tasks.NewManager()
	task := m.SpawnTask()
	disco := &stubDiscoverer{installed: Installation{Profile: GammaProfile, Path: "/installed/java"}}
	got, err := Resolve(context.Background(), disco, GammaProfile, "", "", true, task)
	require.NoError(t, err)
	assert.Equal(t, "/installed/java", got.Path)
}

func TestResolveFailsWhenNoneFoundAndAutoManageOff(t *testing.T) {
	disco := &stubDiscoverer{}
	_, err := Resolve(context.Background(), disco, GammaProfile, "", "", false, nil)
	require.Error(t, err)
}
