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
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/zaparoo-labs/instance-core/pkg/config"
	"github.com/zaparoo-labs/instance-core/pkg/downloader"
	"github.com/zaparoo-labs/instance-core/pkg/gamelog"
	"github.com/zaparoo-labs/instance-core/pkg/httpclient"
	"github.com/zaparoo-labs/instance-core/pkg/javamgr"
	"github.com/zaparoo-labs/instance-core/pkg/launch"
	"github.com/zaparoo-labs/instance-core/pkg/metacache"
	"github.com/zaparoo-labs/instance-core/pkg/metacache/curseforge"
	"github.com/zaparoo-labs/instance-core/pkg/metacache/modrinth"
	"github.com/zaparoo-labs/instance-core/pkg/modindex"
	"github.com/zaparoo-labs/instance-core/pkg/reconcile"
	"github.com/zaparoo-labs/instance-core/pkg/stager"
	"github.com/zaparoo-labs/instance-core/pkg/supervisor"
	"github.com/zaparoo-labs/instance-core/pkg/syncutil"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

// Config assembles the collaborators an Inner needs. VersionResolver and
// JavaDiscoverer are required; New rejects a Config missing either. The
// rest default sensibly for a single-process, filesystem-backed
// deployment.
type Config struct {
	RootDir string
	FS      afero.Fs // default afero.NewOsFs()

	Logger zerolog.Logger
	Clock  clockwork.Clock // default clockwork.NewRealClock()
	Global config.Values   // default config.Defaults

	// Remote platform credentials.
	CurseForgeAPIKey  string
	ModrinthUserAgent string
	// MetaStorePath, if set, persists the metadata cache to a bbolt file
	// at this path, so it survives process restarts. Empty uses an
	// ephemeral in-memory store.
	MetaStorePath string

	// External collaborators, consumed only through the narrow
	// interfaces this core defines.
	VersionResolver    launch.VersionResolver
	AssetReconstructor launch.AssetReconstructor
	JavaDiscoverer     javamgr.Discoverer
	CFFileResolver     stager.FileResolver

	// Concurrency defaults, overridable per the config.Values loaded at
	// runtime.
	TargetConcurrency        int
	ImageDownloadConcurrency int
	ImageScaleConcurrency    int
	// BatchQueriesPerSecond paces metacache's batched remote lookups.
	// Zero selects New's default of 2 queries per second.
	BatchQueriesPerSecond float64
}

// Inner is the root arena: it exclusively owns every manager. Construct
// with New; do not build one by hand, since managers capture a Ref to
// this value that Bind installs exactly once.
type Inner struct {
	FS         afero.Fs
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     zerolog.Logger
	RootDir    string
	Global     config.Values

	Tasks      *tasks.Manager
	GameLogs   *gamelog.Registry
	ModIndexer *modindex.Indexer
	MetaStore  metacache.Store
	MetaCache  *metacache.Manager
	CFClient   *curseforge.Client
	MRClient   *modrinth.Client
	Downloader *downloader.Scheduler
	Stager     *stager.Stager
	Reconciler *reconcile.Reconciler
	Supervisor *supervisor.Supervisor
	Launch     *launch.Pipeline
	Instances  *InstanceRegistry

	// §5 resource table: process-wide locks shared across every launch
	// pipeline and the Java manager.
	DownloadLock  *semaphore.Weighted // PersistenceManager.instance_download_lock
	JavaCheckLock syncutil.Mutex      // PersistenceManager.java_check_lock

	self Ref[Inner]
}

// New assembles a fully wired Inner: every C1-C11 component, bound
// together exactly once. The returned Inner's self-ref is already bound,
// so every manager's back-reference (see instances.go) is immediately
// usable.
func New(cfg Config) (*Inner, error) {
	if cfg.VersionResolver == nil {
		return nil, fmt.Errorf("app: Config.VersionResolver is required")
	}
	if cfg.JavaDiscoverer == nil {
		return nil, fmt.Errorf("app: Config.JavaDiscoverer is required")
	}

	fs := cfg.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	global := cfg.Global
	if global.Launcher.DownloadConcurrency == 0 {
		global = config.Defaults
	}
	httpClient := httpclient.NewClient().Client

	taskMgr, _ := tasks.NewManager()
	gameLogs := gamelog.NewRegistry(fs)
	modIndexer := modindex.New(fs)

	var metaStore metacache.Store
	if cfg.MetaStorePath != "" {
		bolt, err := metacache.OpenBoltStore(cfg.MetaStorePath)
		if err != nil {
			return nil, fmt.Errorf("app: opening metadata cache: %w", err)
		}
		metaStore = bolt
	} else {
		metaStore = metacache.NewMemStore()
	}

	batchPace := cfg.BatchQueriesPerSecond
	if batchPace == 0 {
		batchPace = 2.0
	}
	metaCache := metacache.New(metacache.Config{
		Store:                 metaStore,
		Clock:                 clock,
		TargetConcurrency:     cfg.TargetConcurrency,
		DownloadConcurrency:   cfg.ImageDownloadConcurrency,
		ScaleConcurrency:      cfg.ImageScaleConcurrency,
		BatchQueriesPerSecond: batchPace,
	})

	cfClient := curseforge.New(cfg.CurseForgeAPIKey)
	mrClient := modrinth.New(cfg.ModrinthUserAgent)

	scheduler := downloader.New(fs, httpClient, false)
	stg := stager.New(fs, httpClient, cfg.CFFileResolver)
	recon := reconcile.New(fs)
	sup := supervisor.New(fs, clock, cfg.Logger)

	pipeline := launch.New(fs, scheduler, stg, recon, cfg.VersionResolver, cfg.AssetReconstructor, cfg.JavaDiscoverer, sup, gameLogs, cfg.Logger)
	downloadLock := semaphore.NewWeighted(1)
	pipeline.SetDownloadLock(downloadLock)

	inner := &Inner{
		FS:           fs,
		HTTPClient:   httpClient,
		Clock:        clock,
		Logger:       cfg.Logger,
		RootDir:      cfg.RootDir,
		Global:       global,
		Tasks:        taskMgr,
		GameLogs:     gameLogs,
		ModIndexer:   modIndexer,
		MetaStore:    metaStore,
		MetaCache:    metaCache,
		CFClient:     cfClient,
		MRClient:     mrClient,
		Downloader:   scheduler,
		Stager:       stg,
		Reconciler:   recon,
		Supervisor:   sup,
		Launch:       pipeline,
		DownloadLock: downloadLock,
	}
	// Instances is constructed with a handle to the arena that does not
	// resolve until the line below: the InstanceRegistry needs to reach
	// sibling managers (Tasks, Launch, MetaCache) to orchestrate
	// prepare/kill, but those siblings are fields of the very struct
	// being built. The registry captures &inner.self now and only calls
	// .Get() once a request actually arrives, by which point Bind below
	// has run.
	inner.Instances = newInstanceRegistry(&inner.self)
	inner.self.Bind(inner)

	return inner, nil
}
