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

package launch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaparoo-labs/instance-core/pkg/config"
	"github.com/zaparoo-labs/instance-core/pkg/downloader"
	"github.com/zaparoo-labs/instance-core/pkg/gamelog"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/javamgr"
	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/reconcile"
	"github.com/zaparoo-labs/instance-core/pkg/stager"
	"github.com/zaparoo-labs/instance-core/pkg/supervisor"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
	"github.com/zaparoo-labs/instance-core/pkg/versionmanifest"
)

func intPtr(i int) *int { return &i }

func TestMergeConfigPrefersInstanceOverrides(t *testing.T) {
	global := config.Launcher{MemoryMB: 4096, ResolutionWidth: 854, ResolutionHeight: 480}
	inst := instance.GameConfiguration{Memory: intPtr(8192)}

	got := mergeConfig(inst, global)
	assert.Equal(t, 8192, got.MemoryMB)
	assert.Equal(t, 854, got.ResolutionWidth)
}

func TestMergeConfigUseGlobalJavaArgsReplacesInstanceList(t *testing.T) {
	global := config.Launcher{ExtraJavaArgs: []string{"-Dglobal=1"}}
	inst := instance.GameConfiguration{ExtraJavaArgs: []string{"-Dinstance=1"}, UseGlobalJavaArgs: true}

	got := mergeConfig(inst, global)
	assert.Equal(t, []string{"-Dglobal=1"}, got.ExtraJavaArgs)
}

func TestBeginPreparePreconditionTable(t *testing.T) {
	mgr, _ := tasks.NewManager()
	p := &Pipeline{}

	_, err := p.BeginPrepare(instance.Inactive(nil), mgr)
	require.NoError(t, err)

	running := instance.Running(1, time.Now(), 1, make(chan struct{}))
	_, err = p.BeginPrepare(running, mgr)
	assert.Error(t, err)

	_, err = p.BeginPrepare(instance.Deleting(), mgr)
	assert.Error(t, err)

	inProgress := mgr.SpawnTask()
	_, err = p.BeginPrepare(instance.Preparing(instance.VisualTaskID(inProgress.ID())), mgr)
	assert.Error(t, err)

	failedTask := mgr.SpawnTask()
	failedTask.Subtask("x").Fail(assert.AnError)
	newTask, err := p.BeginPrepare(instance.Preparing(instance.VisualTaskID(failedTask.ID())), mgr)
	require.NoError(t, err)
	assert.NotEqual(t, failedTask.ID(), newTask.ID())
}

type fakeVersions struct {
	base versionmanifest.Manifest
}

func (f *fakeVersions) ResolveBase(context.Context, string) (versionmanifest.Manifest, error) {
	return f.base, nil
}

func (f *fakeVersions) ResolveLoader(context.Context, string, instance.ModLoader) (versionmanifest.Manifest, error) {
	return versionmanifest.Manifest{}, nil
}

func (f *fakeVersions) ResolveCustom(context.Context, string) (versionmanifest.Manifest, error) {
	return f.base, nil
}

type fakeJavaDiscoverer struct{ path string }

func (f *fakeJavaDiscoverer) Discover(context.Context, javamgr.Profile) ([]javamgr.Installation, error) {
	return []javamgr.Installation{{Path: f.path}}, nil
}

func (f *fakeJavaDiscoverer) Install(context.Context, javamgr.Profile, *tasks.Task) (javamgr.Installation, error) {
	return javamgr.Installation{Path: f.path}, nil
}

func TestRunExecutesFullPipelineAndSpawnsProcess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("fake-client-jar"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	sched := downloader.New(fs, srv.Client(), false)
	stg := stager.New(fs, srv.Client(), nil)
	recon := reconcile.New(fs)
	sup := supervisor.New(fs, clockwork.NewFakeClock(), zerolog.Nop())
	registry := gamelog.NewRegistry(fs)

	versions := &fakeVersions{base: versionmanifest.Manifest{
		ID:           "1.20.1",
		MainClass:    "net.minecraft.client.Main",
		ClientJarURL: srv.URL + "/client.jar",
	}}
	javaDisco := &fakeJavaDiscoverer{path: "/usr/bin/java"}

	pipeline := New(fs, sched, stg, recon, versions, nil, javaDisco, sup, registry, zerolog.Nop())

	mgr, _ := tasks.NewManager()
	task := mgr.SpawnTask()

	pth := paths.New("/data", "myinstance")
	inst := &instance.Instance{
		Shortpath: "myinstance",
		Config: instance.GameConfiguration{
			Version: &instance.GameVersion{Release: "1.20.1"},
		},
	}

	opts := Options{
		Instance: inst,
		Paths:    pth,
		Global:   config.Defaults,
		Account:  &FullAccount{Username: "Steve", UUID: "uuid-1", AccessToken: "tok", UserType: "msa"},
		WrapperFn: func(_ GameConfig, _ string, _ []string) *exec.Cmd {
			return exec.Command("sh", "-c", "exit 0")
		},
	}

	handle, err := pipeline.Run(context.Background(), opts, task)
	require.NoError(t, err)
	assert.Greater(t, handle.PID, 0)

	exists, err := afero.Exists(fs, pth.ClientJar("1.20.1"))
	require.NoError(t, err)
	assert.True(t, exists)

	setupExists, _ := afero.DirExists(fs, pth.Setup())
	assert.False(t, setupExists)
}

func TestRunWithoutAccountInstallsOnlyAndDoesNotSpawn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("fake-client-jar"))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	sched := downloader.New(fs, srv.Client(), false)
	stg := stager.New(fs, srv.Client(), nil)
	recon := reconcile.New(fs)
	sup := supervisor.New(fs, clockwork.NewFakeClock(), zerolog.Nop())
	registry := gamelog.NewRegistry(fs)

	versions := &fakeVersions{base: versionmanifest.Manifest{
		ID:           "1.20.1",
		MainClass:    "net.minecraft.client.Main",
		ClientJarURL: srv.URL + "/client.jar",
	}}
	javaDisco := &fakeJavaDiscoverer{path: "/usr/bin/java"}

	pipeline := New(fs, sched, stg, recon, versions, nil, javaDisco, sup, registry, zerolog.Nop())

	mgr, _ := tasks.NewManager()
	task := mgr.SpawnTask()

	pth := paths.New("/data", "myinstance")
	inst := &instance.Instance{
		Shortpath: "myinstance",
		Config: instance.GameConfiguration{
			Version: &instance.GameVersion{Release: "1.20.1"},
		},
	}

	opts := Options{Instance: inst, Paths: pth, Global: config.Defaults}

	handle, err := pipeline.Run(context.Background(), opts, task)
	require.NoError(t, err)
	assert.Equal(t, 0, handle.PID)

	exists, err := afero.Exists(fs, pth.ClientJar("1.20.1"))
	require.NoError(t, err)
	assert.True(t, exists, "install-only still collects assets")

	setupExists, _ := afero.DirExists(fs, pth.Setup())
	assert.False(t, setupExists, "install-only still removes .setup")
}
