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

// Package metacache implements the metadata reconciler: a
// per-(instance, platform) worker that looks up local mod hashes against
// CurseForge/Modrinth, persists the matches, and fetches/rescales mod
// icons, in three phases per run (query, save, cache icons). Failed
// platform queries for an instance back off exponentially and are
// retried on the next run; hashes with no remote match are remembered so
// they are not requeried every time. Work runs as one bounded worker
// invocation per instance rather than through a shared job queue.
package metacache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/zaparoo-labs/instance-core/pkg/instance"
)

// Platform name constants, matching the lowercase strings used in
// ModSources.PlatformBlacklist.
const (
	Curseforge = "curseforge"
	Modrinth   = "modrinth"
)

// UpdatePath is one (game version, loader, channel) triple a mod file is
// compatible with, corresponding to one entry of a semicolon-joined
// update_paths column.
type UpdatePath struct {
	GameVersion string
	Loader      string
	Channel     instance.ReleaseChannel
}

// ModMetadata is the cached remote record for one local mod file,
// addressed by its content hash.
type ModMetadata struct {
	Hash        string
	Platform    string
	ProjectID   string
	FileID      string
	Name        string
	Version     string
	Slug        string
	Summary     string
	Authors     string
	Channel     instance.ReleaseChannel
	Filename    string
	FileURL     string
	IconURL     string
	UpdatePaths []UpdatePath
	CachedAt    time.Time
}

// RemoteLookup abstracts a mod platform's hash lookup and version-history
// API, so curseforge/modrinth subpackages can each provide a concrete
// implementation without this package depending on either's HTTP client.
type RemoteLookup interface {
	Name() string
	// LookupByHash resolves a batch of content hashes (murmur2 decimal
	// strings for Curseforge, sha512 hex for Modrinth) to metadata. Hashes
	// with no match are simply absent from the result.
	LookupByHash(ctx context.Context, hashes []string) (map[string]ModMetadata, error)
	// FetchIcon downloads the raw icon bytes for a cached mod.
	FetchIcon(ctx context.Context, meta ModMetadata) ([]byte, error)
}

// Store persists ModMetadata and icon bytes so they survive restarts.
type Store interface {
	Get(hash string) (ModMetadata, bool, error)
	Put(meta ModMetadata) error
	PutIcon(hash string, data []byte) error
	GetIcon(hash string) ([]byte, bool, error)
}

// Manager orchestrates metadata reconciliation across instances and
// platforms.
type Manager struct {
	store     Store
	clock     clockwork.Clock
	targets   *semaphore.Weighted // bounds concurrent version-history requests
	dlSem     *semaphore.Weighted // bounds concurrent icon downloads
	scaleSem  *semaphore.Weighted // bounds concurrent CPU-bound rescales
	batchPace *rate.Limiter       // paces successive 1000-hash batch queries

	mu       sync.Mutex
	backoffs map[string]*backoffState // keyed by "instance/platform"
	ignored  map[string]bool          // hashes confirmed to have no remote match
}

// Config tunes the Manager's concurrency limits.
type Config struct {
	Store               Store
	Clock               clockwork.Clock
	TargetConcurrency   int
	DownloadConcurrency int
	ScaleConcurrency    int
	// BatchQueriesPerSecond paces successive batch LookupByHash calls
	// within one CacheInstance run, ahead of the exponential-backoff map
	// that only kicks in once a batch call fails outright. Zero means
	// unlimited.
	BatchQueriesPerSecond float64
}

// New constructs a Manager. Zero-valued concurrency fields default to 4.
func New(cfg Config) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	def := func(n int) int64 {
		if n <= 0 {
			return 4
		}
		return int64(n)
	}

	pace := rate.Inf
	burst := 1
	if cfg.BatchQueriesPerSecond > 0 {
		pace = rate.Limit(cfg.BatchQueriesPerSecond)
	}

	return &Manager{
		store:     cfg.Store,
		clock:     clock,
		targets:   semaphore.NewWeighted(def(cfg.TargetConcurrency)),
		dlSem:     semaphore.NewWeighted(def(cfg.DownloadConcurrency)),
		scaleSem:  semaphore.NewWeighted(def(cfg.ScaleConcurrency)),
		batchPace: rate.NewLimiter(pace, burst),
		backoffs:  make(map[string]*backoffState),
		ignored:   make(map[string]bool),
	}
}

const batchSize = 1000
const staleAfter = 24 * time.Hour

// ReconcileResult summarizes one CacheInstance call.
type ReconcileResult struct {
	Matched int
	Missed  int
	Skipped bool // true if skipped due to active backoff
}

// CacheInstance runs phase A (query) and phase B (save) for one platform
// against the set of local hashes, excluding any already-ignored or
// freshly-cached (within staleAfter) hashes. It records backoff on
// failure and clears it on success, per instance/platform pair.
func (m *Manager) CacheInstance(
	ctx context.Context,
	instanceID string,
	platform RemoteLookup,
	localHashes []string,
) (ReconcileResult, error) {
	key := instanceID + "/" + platform.Name()

	if m.isBackingOff(key) {
		return ReconcileResult{Skipped: true}, nil
	}

	pending := m.filterPending(localHashes)
	if len(pending) == 0 {
		return ReconcileResult{}, nil
	}

	result := ReconcileResult{}
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		chunk := pending[start:end]

		if err := m.targets.Acquire(ctx, 1); err != nil {
			return result, fmt.Errorf("metacache: acquiring target semaphore: %w", err)
		}
		if err := m.batchPace.Wait(ctx); err != nil {
			m.targets.Release(1)
			return result, fmt.Errorf("metacache: pacing batch query: %w", err)
		}
		matches, err := platform.LookupByHash(ctx, chunk)
		m.targets.Release(1)
		if err != nil {
			m.recordFailure(key)
			return result, fmt.Errorf("metacache: querying %s: %w", platform.Name(), err)
		}

		for _, hash := range chunk {
			meta, ok := matches[hash]
			if !ok {
				m.markIgnored(hash)
				result.Missed++
				continue
			}
			meta.Hash = hash
			meta.Platform = platform.Name()
			meta.CachedAt = m.clock.Now()
			if err := m.store.Put(meta); err != nil {
				return result, fmt.Errorf("metacache: storing %s: %w", hash, err)
			}
			result.Matched++
		}
	}

	m.recordSuccess(key)
	return result, nil
}

func (m *Manager) filterPending(hashes []string) []string {
	m.mu.Lock()
	ignored := make(map[string]bool, len(m.ignored))
	for k, v := range m.ignored {
		ignored[k] = v
	}
	m.mu.Unlock()

	pending := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if ignored[h] {
			continue
		}
		if meta, found, err := m.store.Get(h); err == nil && found {
			if m.clock.Now().Sub(meta.CachedAt) < staleAfter {
				continue
			}
		}
		pending = append(pending, h)
	}
	return pending
}

func (m *Manager) markIgnored(hash string) {
	m.mu.Lock()
	m.ignored[hash] = true
	m.mu.Unlock()
}

// CacheIcon downloads and rescales one mod's icon under the download and
// scale semaphores, storing the result.
func (m *Manager) CacheIcon(ctx context.Context, platform RemoteLookup, meta ModMetadata) error {
	if err := m.dlSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("metacache: acquiring download semaphore: %w", err)
	}
	raw, err := platform.FetchIcon(ctx, meta)
	m.dlSem.Release(1)
	if err != nil {
		return fmt.Errorf("metacache: fetching icon for %s: %w", meta.Hash, err)
	}

	if err := m.scaleSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("metacache: acquiring scale semaphore: %w", err)
	}
	scaled, err := scaleModIcon(raw)
	m.scaleSem.Release(1)
	if err != nil {
		return fmt.Errorf("metacache: scaling icon for %s: %w", meta.Hash, err)
	}

	return m.store.PutIcon(meta.Hash, scaled)
}

// HasUpdate reports whether meta has any update available along the
// instance's active update paths (game version + loader), gated by the
// preference's allowed channels.
func HasUpdate(meta ModMetadata, updatePaths []UpdatePath, sources instance.ModSources) bool {
	best := instance.Alpha
	matched := false
	for _, want := range updatePaths {
		for _, have := range meta.UpdatePaths {
			if have.GameVersion != want.GameVersion || have.Loader != want.Loader {
				continue
			}
			if have.Channel < best && matched {
				continue
			}
			for _, pref := range sources.Channels {
				if pref.Channel == have.Channel && pref.AllowUpdates {
					best = have.Channel
					matched = true
				}
			}
		}
	}
	return matched
}
