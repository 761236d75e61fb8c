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

package app

import (
	"context"
	"os"
	"os/exec"
	"strconv"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/launch"
	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/readysignal"
	"github.com/zaparoo-labs/instance-core/pkg/syncutil"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

// tracked is the registry's per-instance record: the in-memory model plus
// its current LaunchState. Persisting this as instance.json and a
// database row is the external persistence store's job; the registry
// only holds what a running process needs to enforce the state machine.
type tracked struct {
	inst    *instance.Instance
	state   instance.LaunchState
	killed  bool
	focused bool
}

// InstanceRegistry is a single RWMutex-guarded id->instance map, plus the
// orchestration that turns a prepare/kill request into calls against the
// sibling managers (Launch, Tasks, MetaCache) this registry does not
// itself own.
type InstanceRegistry struct {
	mu    syncutil.RWMutex
	byID  map[instance.ID]*tracked
	arena *Ref[Inner]
}

func newInstanceRegistry(arena *Ref[Inner]) *InstanceRegistry {
	return &InstanceRegistry{byID: make(map[instance.ID]*tracked), arena: arena}
}

// Register adds or replaces an instance's in-memory record, starting
// Inactive. Callers (the persistence-store-backed layer above this core)
// call this once per instance at startup and again after a user creates
// one.
func (r *InstanceRegistry) Register(inst *instance.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[inst.ID] = &tracked{inst: inst, state: instance.Inactive(nil)}
}

// Get returns the current instance value and LaunchState.
func (r *InstanceRegistry) Get(id instance.ID) (*instance.Instance, instance.LaunchState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, instance.LaunchState{}, false
	}
	return t.inst, t.state, true
}

// SetFocus marks id as the instance the UI is currently displaying or
// launching, clearing focus from every other instance. The metadata
// reconciler reads this to service the focused instance's cache first.
func (r *InstanceRegistry) SetFocus(id instance.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for other, t := range r.byID {
		t.focused = other == id
	}
}

// Focused returns the currently focused instance id, if any.
func (r *InstanceRegistry) Focused() (instance.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, t := range r.byID {
		if t.focused {
			return id, true
		}
	}
	return 0, false
}

func (r *InstanceRegistry) setState(id instance.ID, state instance.LaunchState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		t.state = state
	}
}

func withConflictInstance(err error, id instance.ID) error {
	if conflict, ok := err.(*apperr.ErrStateConflict); ok {
		conflict.Instance = int64(id)
	}
	return err
}

// PrepareGame checks the instance's current LaunchState against the
// precondition table, spawns a task, and runs the launch pipeline in the
// background, transitioning this instance's LaunchState as the pipeline
// progresses. account == nil selects install-only; a non-nil account
// additionally launches the game. The returned task lets the caller
// observe progress; PrepareGame itself does not block on the pipeline
// completing.
func (r *InstanceRegistry) PrepareGame(
	ctx context.Context,
	id instance.ID,
	account *launch.FullAccount,
	modpack *launch.ModpackChange,
	wrapperFn func(launch.GameConfig, string, []string) *exec.Cmd,
) (*tasks.Task, error) {
	r.mu.Lock()
	t, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.ErrInvalidInstanceID
	}
	inst := t.inst
	state := t.state
	r.mu.Unlock()

	inner := r.arena.Get()

	task, err := inner.Launch.BeginPrepare(state, inner.Tasks)
	if err != nil {
		return nil, withConflictInstance(err, id)
	}

	r.setState(id, instance.Preparing(instance.VisualTaskID(task.ID())))

	go r.runPipeline(context.WithoutCancel(ctx), inner, id, inst, account, modpack, wrapperFn, task)

	return task, nil
}

func (r *InstanceRegistry) runPipeline(
	ctx context.Context,
	inner *Inner,
	id instance.ID,
	inst *instance.Instance,
	account *launch.FullAccount,
	modpack *launch.ModpackChange,
	wrapperFn func(launch.GameConfig, string, []string) *exec.Cmd,
	task *tasks.Task,
) {
	pth := paths.New(inner.RootDir, inst.Shortpath)
	opts := launch.Options{
		Instance:  inst,
		Paths:     pth,
		Global:    inner.Global,
		Modpack:   modpack,
		Account:   account,
		WrapperFn: wrapperFn,
	}

	handle, err := inner.Launch.Run(ctx, opts, task)
	if err != nil {
		taskID := instance.VisualTaskID(task.ID())
		r.setState(id, instance.Inactive(&taskID))
		inner.Logger.Error().Err(err).Str("instance", inst.Shortpath).Msg("launch pipeline failed")
		return
	}

	if handle.PID == 0 {
		// Install only: staged/reconciled/collected, never spawned.
		r.setState(id, instance.Inactive(nil))
		return
	}

	r.setState(id, instance.Running(handle.PID, inner.Clock.Now(), int64(handle.LogID), handle.KillSignal))
	readysignal.WriteGameLaunched(os.Stdout, inst.Shortpath)

	go r.warmMetaCache(ctx, inner, inst)

	<-handle.Done
	r.setState(id, instance.Inactive(nil))
	readysignal.WriteGameClosed(os.Stdout, inst.Shortpath)
}

// warmMetaCache refreshes the instance's mod metadata against the
// configured Curseforge platform right after launch, alongside the
// periodic and watch-focused triggers. Best-effort: a failure here only
// affects cache freshness, never the running game.
func (r *InstanceRegistry) warmMetaCache(ctx context.Context, inner *Inner, inst *instance.Instance) {
	pth := paths.New(inner.RootDir, inst.Shortpath)
	idx, err := inner.ModIndexer.Scan(pth.Mods())
	if err != nil {
		inner.Logger.Warn().Err(err).Str("instance", inst.Shortpath).Msg("scanning mods for cache warm")
		return
	}

	hashes := make([]string, 0, len(idx))
	for _, meta := range idx {
		hashes = append(hashes, strconv.FormatUint(uint64(meta.Murmur2), 10))
	}

	if _, err := inner.MetaCache.CacheInstance(ctx, inst.Shortpath, inner.CFClient, hashes); err != nil {
		inner.Logger.Warn().Err(err).Str("instance", inst.Shortpath).Msg("warming metadata cache")
	}
}

// KillInstance rejects unless the instance is Running, then signals the
// supervisor to terminate the child. It does not block for the child to
// actually exit; runPipeline's goroutine observes that asynchronously.
func (r *InstanceRegistry) KillInstance(id instance.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return apperr.ErrInvalidInstanceID
	}
	if err := t.state.CanKill(); err != nil {
		return withConflictInstance(err, id)
	}
	if t.killed {
		return nil
	}
	t.killed = true
	close(t.state.KillSignal())
	return nil
}
