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

// Package launch implements prepare_game/launch_game: the twelve-phase
// pipeline that turns a stopped Instance into a running game process,
// composed from this engine's downloader, stager, and reconciler plus
// pkg/javamgr and pkg/versionmanifest, in a sequential
// pipeline-over-injected-collaborators style.
package launch

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/zaparoo-labs/instance-core/pkg/config"
	"github.com/zaparoo-labs/instance-core/pkg/downloader"
	"github.com/zaparoo-labs/instance-core/pkg/gamelog"
	"github.com/zaparoo-labs/instance-core/pkg/instance"
	"github.com/zaparoo-labs/instance-core/pkg/javamgr"
	"github.com/zaparoo-labs/instance-core/pkg/packinfo"
	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/reconcile"
	"github.com/zaparoo-labs/instance-core/pkg/stager"
	"github.com/zaparoo-labs/instance-core/pkg/supervisor"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
	"github.com/zaparoo-labs/instance-core/pkg/versionmanifest"
)

// VersionResolver fetches the base Minecraft manifest and any modloader
// partial manifests, and resolves a Custom version's sole (already-merged)
// manifest. Network access and upstream-specific parsing are an external
// collaborator this package only consumes.
type VersionResolver interface {
	ResolveBase(ctx context.Context, release string) (versionmanifest.Manifest, error)
	ResolveLoader(ctx context.Context, release string, loader instance.ModLoader) (versionmanifest.Manifest, error)
	ResolveCustom(ctx context.Context, opaqueVersion string) (versionmanifest.Manifest, error)
}

// AssetReconstructor lays out the (virtual or legacy) asset object tree
// from a resolved asset index. The virtual/legacy layout distinction is
// Mojang-specific, so it remains an external collaborator the pipeline
// only invokes.
type AssetReconstructor interface {
	Reconstruct(ctx context.Context, index versionmanifest.AssetIndexRef, assetsDir string, task *tasks.Task) error
}

// processorSem bounds loader install processors to one at a time
// system-wide, since two Forge installers writing into a shared
// libraries cache concurrently would race.
var processorSem = semaphore.NewWeighted(1)

// Pipeline runs launch_game for one instance, wiring the engine's own
// components together with the collaborators above.
type Pipeline struct {
	fs           afero.Fs
	scheduler    *downloader.Scheduler
	stager       *stager.Stager
	reconciler   *reconcile.Reconciler
	versions     VersionResolver
	assets       AssetReconstructor
	javaDisco    javamgr.Discoverer
	supervisor   *supervisor.Supervisor
	gameLogs     *gamelog.Registry
	logger       zerolog.Logger
	downloadLock *semaphore.Weighted
}

// SetDownloadLock installs the process-wide instance download lock: a
// semaphore of 1 over the download phase of any pipeline, preventing
// bandwidth thrash across concurrent instance launches. Optional: nil
// (the default) leaves asset collection unguarded, which is fine for
// single-instance use or tests.
func (p *Pipeline) SetDownloadLock(sem *semaphore.Weighted) { p.downloadLock = sem }

// New constructs a Pipeline.
func New(
	fsys afero.Fs,
	scheduler *downloader.Scheduler,
	stg *stager.Stager,
	recon *reconcile.Reconciler,
	versions VersionResolver,
	assets AssetReconstructor,
	javaDisco javamgr.Discoverer,
	sup *supervisor.Supervisor,
	gameLogs *gamelog.Registry,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		fs:         fsys,
		scheduler:  scheduler,
		stager:     stg,
		reconciler: recon,
		versions:   versions,
		assets:     assets,
		javaDisco:  javaDisco,
		supervisor: sup,
		gameLogs:   gameLogs,
		logger:     logger.With().Str("component", "launch").Logger(),
	}
}

// BeginPrepare applies the prepare-game precondition table:
//   - Inactive -> accept, spawn a task
//   - Preparing with a failed task -> dismiss it, accept, spawn a new task
//   - Preparing with an in-progress task -> reject
//   - Running -> reject
//   - Deleting -> reject
//
// Callers persist the returned task's id as the instance's new Preparing
// state before invoking Run.
func (p *Pipeline) BeginPrepare(state instance.LaunchState, taskMgr *tasks.Manager) (*tasks.Task, error) {
	if state.Kind == instance.StatePreparing {
		taskID := tasks.ID(state.TaskID)
		if t, ok := taskMgr.Get(taskID); ok {
			if st, _ := t.State(); st == tasks.TaskFailed {
				_ = taskMgr.DismissTask(taskID)
				state = instance.Inactive(nil)
			}
		}
	}
	if err := state.CanPrepare(); err != nil {
		return nil, err
	}
	return taskMgr.SpawnTask(), nil
}

// ModpackChange carries a pending modpack change, when prepare is being
// invoked to apply one. Nil means prepare is only (re)launching the
// existing, already-reconciled instance tree.
type ModpackChange struct {
	Spec        stager.ChangeSpec
	Concurrency int
}

// FullAccount is the opaque identity the launch pipeline substitutes
// into the game's auth arguments when building the launch command. Its
// absence selects "install only" mode: Run stages/reconciles/collects
// assets but does not spawn the child. Authenticating the account
// itself is an external collaborator; this package only consumes the
// resolved result.
type FullAccount struct {
	Username    string
	UUID        string
	AccessToken string
	UserType    string // e.g. "msa"
}

// Options configures one prepare_game/launch_game run.
type Options struct {
	Instance  *instance.Instance
	Paths     paths.Instance
	Global    config.Values
	Modpack   *ModpackChange
	Account   *FullAccount // nil selects "install only"
	WrapperFn func(merged GameConfig, javaPath string, args []string) *exec.Cmd
}

// GameConfig is the merged, launch-ready configuration: instance
// settings merged with global defaults.
type GameConfig struct {
	MemoryMB         int
	ResolutionWidth  int
	ResolutionHeight int
	ExtraJavaArgs    []string
	JavaOverridePath string
	PreLaunchHook    string
	PostExitHook     string
	WrapperCommand   string
}

// mergeConfig merges per-instance overrides onto global defaults:
// per-instance values win, falling back to global defaults.
// UseGlobalJavaArgs replaces (not
// appends to) the per-instance ExtraJavaArgs with the global list.
func mergeConfig(inst instance.GameConfiguration, global config.Launcher) GameConfig {
	out := GameConfig{
		MemoryMB:         global.MemoryMB,
		ResolutionWidth:  global.ResolutionWidth,
		ResolutionHeight: global.ResolutionHeight,
		ExtraJavaArgs:    global.ExtraJavaArgs,
		PreLaunchHook:    global.PreLaunchHook,
		PostExitHook:     global.PostExitHook,
		WrapperCommand:   global.WrapperCommand,
	}
	if inst.Memory != nil {
		out.MemoryMB = *inst.Memory
	}
	if inst.Resolution != nil {
		out.ResolutionWidth = inst.Resolution.Width
		out.ResolutionHeight = inst.Resolution.Height
	}
	if inst.JavaOverride != nil {
		out.JavaOverridePath = *inst.JavaOverride
	}
	if !inst.UseGlobalJavaArgs && len(inst.ExtraJavaArgs) > 0 {
		out.ExtraJavaArgs = inst.ExtraJavaArgs
	}
	if inst.PreLaunchHook != nil {
		out.PreLaunchHook = *inst.PreLaunchHook
	}
	if inst.PostExitHook != nil {
		out.PostExitHook = *inst.PostExitHook
	}
	if inst.WrapperCommand != nil {
		out.WrapperCommand = *inst.WrapperCommand
	}
	return out
}

// Run executes the twelve launch phases against task, returning the
// supervisor handle for the now-running child once phase 12 completes.
// Callers are responsible for persisting the Running LaunchState the
// handle implies.
func (p *Pipeline) Run(ctx context.Context, opts Options, task *tasks.Task) (supervisor.Handle, error) {
	inst := opts.Instance
	pth := opts.Paths
	p.logger.Info().Str("instance", inst.Shortpath).Msg("launch pipeline starting")

	// Phase 1: resolve config.
	cfg := mergeConfig(inst.Config, opts.Global.Launcher)

	// Phase 2: stage & reconcile, if a modpack change is pending.
	if opts.Modpack != nil {
		if err := p.stageAndReconcile(ctx, pth, *opts.Modpack, task); err != nil {
			return supervisor.Handle{}, err
		}
	}

	// Phase 3: resolve version info.
	gv := inst.Config.Version
	if gv == nil {
		gv = &instance.GameVersion{}
	}
	manifestSub := task.Subtask("resolve version manifest")
	manifestSub.StartOpaque()
	manifest, versionID, err := p.resolveVersion(ctx, *gv)
	if err != nil {
		manifestSub.Fail(err)
		return supervisor.Handle{}, err
	}
	manifestSub.CompleteOpaque()

	// Phase 4: Java selection.
	javaSub := task.Subtask("select java runtime")
	javaSub.StartOpaque()
	hasForge := hasLoader(*gv, instance.Forge)
	required := javamgr.RequiredProfile(manifest.JavaVersion.Component, gv.Release, hasForge)
	overrideProfile := javamgr.Profile("")
	javaInstall, err := javamgr.Resolve(ctx, p.javaDisco, required, cfg.JavaOverridePath, overrideProfile, opts.Global.Launcher.AutoManageJava, task)
	if err != nil {
		javaSub.Fail(err)
		return supervisor.Handle{}, err
	}
	javaSub.CompleteOpaque()

	// Phase 5: collect libraries & client jar.
	if err := p.collectAssets(ctx, pth, manifest, versionID, opts.Global.Launcher.DownloadConcurrency, task); err != nil {
		return supervisor.Handle{}, err
	}

	// Phase 6: natives extraction.
	nativesSub := task.Subtask("extract natives")
	nativesSub.StartOpaque()
	if err := extractNatives(p.fs, pth, manifest.Libraries); err != nil {
		nativesSub.Fail(err)
		return supervisor.Handle{}, err
	}
	nativesSub.CompleteOpaque()

	// Phase 7: assets reconstruction.
	if p.assets != nil {
		assetsSub := task.Subtask("reconstruct assets")
		assetsSub.StartOpaque()
		if err := p.assets.Reconstruct(ctx, manifest.AssetIndex, pth.Assets(), task); err != nil {
			assetsSub.Fail(err)
			return supervisor.Handle{}, err
		}
		assetsSub.CompleteOpaque()
	}

	// Phase 8: loader install processors, serially, one system-wide.
	if len(manifest.Processors) > 0 {
		procSub := task.Subtask("run loader processors")
		procSub.StartOpaque()
		if err := runProcessors(ctx, p.fs, javaInstall.Path, pth, manifest.Processors); err != nil {
			procSub.Fail(err)
			return supervisor.Handle{}, err
		}
		procSub.CompleteOpaque()
	}

	// Phase 9: remove .setup/.
	if err := p.fs.RemoveAll(pth.Setup()); err != nil {
		err = fmt.Errorf("launch: removing setup dir: %w", err)
		task.Subtask("clean up setup").Fail(err)
		return supervisor.Handle{}, err
	}

	// "Install only": no account means the caller only asked prepare_game
	// to stage/reconcile/collect assets, not launch_game. Phases 10-12
	// never run.
	if opts.Account == nil {
		p.logger.Info().Str("instance", inst.Shortpath).Msg("install only, not launching")
		return supervisor.Handle{}, nil
	}

	// Phase 10: pre-launch hook; a non-zero exit fails the whole launch.
	if cfg.PreLaunchHook != "" {
		hookSub := task.Subtask("pre-launch hook")
		hookSub.StartOpaque()
		cmd := exec.CommandContext(ctx, cfg.PreLaunchHook) //nolint:gosec // operator-configured hook command
		cmd.Dir = pth.Root()
		if err := cmd.Run(); err != nil {
			err = fmt.Errorf("launch: pre-launch hook failed: %w", err)
			hookSub.Fail(err)
			return supervisor.Handle{}, err
		}
		hookSub.CompleteOpaque()
	}

	// Phase 11: spawn via supervisor.
	args := buildArgs(manifest, cfg, pth, versionID, opts.Account)
	var cmd *exec.Cmd
	if opts.WrapperFn != nil {
		cmd = opts.WrapperFn(cfg, javaInstall.Path, args)
	} else {
		cmd = exec.CommandContext(ctx, javaInstall.Path, args...) //nolint:gosec // arguments derived from resolved version manifest
	}
	cmd.Dir = pth.Data()

	hooks := supervisor.Hooks{}
	if cfg.PostExitHook != "" {
		hooks.PostExit = []string{cfg.PostExitHook}
	}

	handle, err := p.supervisor.Run(ctx, cmd, inst.Shortpath, logFilePath(pth), p.gameLogs, hooks, supervisor.Callbacks{})
	if err != nil {
		err = fmt.Errorf("launch: spawning game process: %w", err)
		task.Subtask("spawn process").Fail(err)
		return supervisor.Handle{}, err
	}

	p.logger.Info().Str("instance", inst.Shortpath).Int("pid", handle.PID).Msg("game process spawned")

	// Phase 12: transition to Running is the caller's responsibility
	// (persisting LaunchState is a database concern, an external
	// collaborator); the handle above carries everything needed to
	// construct it.
	return handle, nil
}

func (p *Pipeline) stageAndReconcile(ctx context.Context, pth paths.Instance, change ModpackChange, task *tasks.Task) error {
	res, err := p.stager.Run(ctx, pth, change.Spec, change.Concurrency, task)
	if err != nil {
		return fmt.Errorf("launch: staging modpack: %w", err)
	}

	var prevInfo packinfo.Packinfo
	if prevRaw, readErr := afero.ReadFile(p.fs, pth.Packinfo()); readErr == nil && len(prevRaw) > 0 {
		prevInfo, err = packinfo.Parse(prevRaw)
		if err != nil {
			return fmt.Errorf("launch: parsing previous packinfo: %w", err)
		}
	}

	result, err := p.reconciler.Run(pth.Data(), res.StagingRoot, prevInfo, res.StagingPackinfo, task)
	if err != nil {
		return fmt.Errorf("launch: reconciling modpack: %w", err)
	}
	if err := reconcile.WriteAudit(p.fs, pth.AuditFile(), result.Records); err != nil {
		return fmt.Errorf("launch: writing audit log: %w", err)
	}
	if err := reconcile.Commit(p.fs, pth); err != nil {
		return fmt.Errorf("launch: committing reconciliation: %w", err)
	}
	return nil
}

func (p *Pipeline) resolveVersion(ctx context.Context, gv instance.GameVersion) (versionmanifest.Manifest, string, error) {
	if !gv.IsStandard() {
		m, err := p.versions.ResolveCustom(ctx, gv.Custom)
		return m, gv.Custom, err
	}

	base, err := p.versions.ResolveBase(ctx, gv.Release)
	if err != nil {
		return versionmanifest.Manifest{}, "", fmt.Errorf("launch: resolving base manifest: %w", err)
	}

	merged := base
	versionID := gv.Release
	for _, loader := range gv.ModLoaders {
		patch, err := p.versions.ResolveLoader(ctx, gv.Release, loader)
		if err != nil {
			return versionmanifest.Manifest{}, "", fmt.Errorf("launch: resolving %s manifest: %w", loader.Type, err)
		}
		merged = versionmanifest.Merge(merged, patch)
		versionID = fmt.Sprintf("%s-%s-%s", versionID, loader.Type, loader.Version)
	}
	return merged, versionID, nil
}

func hasLoader(gv instance.GameVersion, t instance.ModLoaderType) bool {
	for _, l := range gv.ModLoaders {
		if l.Type == t {
			return true
		}
	}
	return false
}

func (p *Pipeline) collectAssets(ctx context.Context, pth paths.Instance, manifest versionmanifest.Manifest, versionID string, concurrency int, task *tasks.Task) error {
	sub := task.Subtask("download libraries")

	var entries []downloader.Downloadable
	for _, lib := range manifest.Libraries {
		if !versionmanifest.Allows(lib.Rules, runtime.GOOS, runtime.GOARCH) {
			continue
		}
		if lib.URL == "" {
			continue
		}
		entries = append(entries, downloader.Downloadable{
			URL:          lib.URL,
			DestPath:     filepath.Join(pth.Libraries(), filepath.FromSlash(lib.Name)),
			ExpectedHash: lib.SHA1,
			HashAlgo:     downloader.HashSHA1,
			ExpectedSize: lib.Size,
		})
	}
	if manifest.ClientJarURL != "" {
		entries = append(entries, downloader.Downloadable{
			URL:          manifest.ClientJarURL,
			DestPath:     pth.ClientJar(versionID),
			ExpectedHash: manifest.ClientJarSHA1,
			HashAlgo:     downloader.HashSHA1,
			ExpectedSize: manifest.ClientJarSize,
		})
	}

	if concurrency < 1 {
		concurrency = 1
	}

	progressCh := make(chan downloader.Progress, 1)
	go func() {
		for prog := range progressCh {
			sub.UpdateDownload(prog.CurrentBytes, prog.TotalBytes, false)
		}
	}()
	required, err := p.scheduler.Run(ctx, entries, concurrency, downloader.Verify, nil)
	if err == nil && required {
		if p.downloadLock != nil {
			if lockErr := p.downloadLock.Acquire(ctx, 1); lockErr != nil {
				close(progressCh)
				return fmt.Errorf("launch: acquiring download lock: %w", lockErr)
			}
			defer p.downloadLock.Release(1)
		}
		_, err = p.scheduler.Run(ctx, entries, concurrency, downloader.Download, progressCh)
	}
	close(progressCh)
	if err != nil {
		err = fmt.Errorf("launch: collecting libraries: %w", err)
		sub.Fail(err)
		return err
	}
	sub.Complete()
	return nil
}

func logFilePath(pth paths.Instance) string {
	return filepath.Join(pth.GDLLogs(), time.Now().Format("2006-01-02_15-04-05")+".log")
}

func buildArgs(m versionmanifest.Manifest, cfg GameConfig, pth paths.Instance, versionID string, account *FullAccount) []string {
	args := []string{fmt.Sprintf("-Xmx%dM", cfg.MemoryMB)}
	args = append(args, cfg.ExtraJavaArgs...)
	args = append(args, "-cp", classpath(m, pth, versionID), m.MainClass)
	args = append(args,
		"--gameDir", pth.Data(),
		"--assetsDir", pth.Assets(),
		"--width", fmt.Sprintf("%d", cfg.ResolutionWidth),
		"--height", fmt.Sprintf("%d", cfg.ResolutionHeight),
		"--version", versionID,
	)
	if account != nil {
		args = append(args,
			"--username", account.Username,
			"--uuid", account.UUID,
			"--accessToken", account.AccessToken,
			"--userType", account.UserType,
		)
	}
	return args
}

func classpath(m versionmanifest.Manifest, pth paths.Instance, versionID string) string {
	sep := ":"
	if runtime.GOOS == "windows" {
		sep = ";"
	}
	cp := pth.ClientJar(versionID)
	for _, lib := range m.Libraries {
		if lib.Native {
			continue
		}
		if !versionmanifest.Allows(lib.Rules, runtime.GOOS, runtime.GOARCH) {
			continue
		}
		cp += sep + filepath.Join(pth.Libraries(), filepath.FromSlash(lib.Name))
	}
	return cp
}

