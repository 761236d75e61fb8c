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

package metacache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaparoo-labs/instance-core/pkg/instance"
)

type memStore struct {
	mu    sync.Mutex
	meta  map[string]ModMetadata
	icons map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{meta: make(map[string]ModMetadata), icons: make(map[string][]byte)}
}

func (s *memStore) Get(hash string) (ModMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[hash]
	return m, ok, nil
}

func (s *memStore) Put(meta ModMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[meta.Hash] = meta
	return nil
}

func (s *memStore) PutIcon(hash string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.icons[hash] = data
	return nil
}

func (s *memStore) GetIcon(hash string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.icons[hash]
	return d, ok, nil
}

type fakePlatform struct {
	name    string
	matches map[string]ModMetadata
	err     error
	calls   int
}

func (p *fakePlatform) Name() string { return p.name }

func (p *fakePlatform) LookupByHash(_ context.Context, hashes []string) (map[string]ModMetadata, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]ModMetadata)
	for _, h := range hashes {
		if m, ok := p.matches[h]; ok {
			out[h] = m
		}
	}
	return out, nil
}

func (p *fakePlatform) FetchIcon(context.Context, ModMetadata) ([]byte, error) {
	return nil, nil
}

func TestCacheInstanceStoresMatchesAndIgnoresMisses(t *testing.T) {
	store := newMemStore()
	clock := clockwork.NewFakeClock()
	m := New(Config{Store: store, Clock: clock})

	platform := &fakePlatform{
		name: Curseforge,
		matches: map[string]ModMetadata{
			"hash-a": {Name: "Mod A"},
		},
	}

	result, err := m.CacheInstance(context.Background(), "inst-1", platform, []string{"hash-a", "hash-b"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Missed)

	meta, found, err := store.Get("hash-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Mod A", meta.Name)
	assert.Equal(t, Curseforge, meta.Platform)

	_, found, err = store.Get("hash-b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCacheInstanceSkipsFreshlyCachedHashes(t *testing.T) {
	store := newMemStore()
	clock := clockwork.NewFakeClock()
	m := New(Config{Store: store, Clock: clock})

	require.NoError(t, store.Put(ModMetadata{Hash: "hash-a", CachedAt: clock.Now()}))

	platform := &fakePlatform{name: Curseforge, matches: map[string]ModMetadata{"hash-a": {Name: "stale-refresh"}}}

	result, err := m.CacheInstance(context.Background(), "inst-1", platform, []string{"hash-a"})
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, result)
	assert.Zero(t, platform.calls)
}

func TestCacheInstanceRefetchesStaleEntries(t *testing.T) {
	store := newMemStore()
	clock := clockwork.NewFakeClock()
	m := New(Config{Store: store, Clock: clock})

	require.NoError(t, store.Put(ModMetadata{Hash: "hash-a", CachedAt: clock.Now()}))
	clock.Advance(25 * time.Hour)

	platform := &fakePlatform{name: Curseforge, matches: map[string]ModMetadata{"hash-a": {Name: "refreshed"}}}

	result, err := m.CacheInstance(context.Background(), "inst-1", platform, []string{"hash-a"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
}

func TestCacheInstanceBacksOffAfterFailure(t *testing.T) {
	store := newMemStore()
	clock := clockwork.NewFakeClock()
	m := New(Config{Store: store, Clock: clock})

	platform := &fakePlatform{name: Curseforge, err: assertErr("boom")}

	_, err := m.CacheInstance(context.Background(), "inst-1", platform, []string{"hash-a"})
	require.Error(t, err)

	result, err := m.CacheInstance(context.Background(), "inst-1", platform, []string{"hash-a"})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 1, platform.calls, "the second call must be skipped by backoff, not re-attempted")

	clock.Advance(2 * time.Second)
	platform.err = nil
	platform.matches = map[string]ModMetadata{"hash-a": {Name: "recovered"}}
	result, err = m.CacheInstance(context.Background(), "inst-1", platform, []string{"hash-a"})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Matched)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestHasUpdateRespectsChannelPreference(t *testing.T) {
	meta := ModMetadata{
		UpdatePaths: []UpdatePath{
			{GameVersion: "1.20.1", Loader: "forge", Channel: instance.Beta},
		},
	}
	wanted := []UpdatePath{{GameVersion: "1.20.1", Loader: "forge"}}

	sources := instance.ModSources{Channels: []instance.ChannelPreference{
		{Channel: instance.Alpha, AllowUpdates: false},
		{Channel: instance.Beta, AllowUpdates: true},
		{Channel: instance.Stable, AllowUpdates: false},
	}}
	assert.True(t, HasUpdate(meta, wanted, sources))

	sources.Channels[1].AllowUpdates = false
	assert.False(t, HasUpdate(meta, wanted, sources))
}
