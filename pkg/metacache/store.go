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
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
)

var (
	metaBucket = []byte("mod_metadata")
	iconBucket = []byte("mod_icons")
)

// BoltStore is the production Store, persisting metadata and icons in a
// single bbolt file so the cache survives process restarts.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt database at path with
// the buckets this store needs.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("metacache: opening bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(iconBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metacache: initializing buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get returns the cached metadata for hash, if present.
func (s *BoltStore) Get(hash string) (ModMetadata, bool, error) {
	var meta ModMetadata
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(metaBucket).Get([]byte(hash))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &meta)
	})
	if err != nil {
		return ModMetadata{}, false, fmt.Errorf("metacache: reading %s: %w", hash, err)
	}
	return meta, found, nil
}

// Put stores meta, keyed by its Hash field.
func (s *BoltStore) Put(meta ModMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("metacache: encoding %s: %w", meta.Hash, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(meta.Hash), raw)
	})
	if err != nil {
		return fmt.Errorf("metacache: writing %s: %w", meta.Hash, err)
	}
	return nil
}

// PutIcon stores the rescaled icon bytes for hash.
func (s *BoltStore) PutIcon(hash string, data []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(iconBucket).Put([]byte(hash), data)
	})
	if err != nil {
		return fmt.Errorf("metacache: writing icon %s: %w", hash, err)
	}
	return nil
}

// GetIcon returns the cached icon bytes for hash, if present.
func (s *BoltStore) GetIcon(hash string) ([]byte, bool, error) {
	var data []byte
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(iconBucket).Get([]byte(hash))
		if raw == nil {
			return nil
		}
		found = true
		data = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("metacache: reading icon %s: %w", hash, err)
	}
	return data, found, nil
}

// MemStore is an ephemeral Store: metadata and icons live only for the
// process lifetime. Used when no on-disk cache path is configured.
type MemStore struct {
	mu    sync.Mutex
	meta  map[string]ModMetadata
	icons map[string][]byte
}

// NewMemStore returns an empty, ready-to-use in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{meta: make(map[string]ModMetadata), icons: make(map[string][]byte)}
}

func (s *MemStore) Get(hash string) (ModMetadata, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[hash]
	return m, ok, nil
}

func (s *MemStore) Put(meta ModMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[meta.Hash] = meta
	return nil
}

func (s *MemStore) PutIcon(hash string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.icons[hash] = data
	return nil
}

func (s *MemStore) GetIcon(hash string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.icons[hash]
	return d, ok, nil
}
