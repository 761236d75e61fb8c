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

package gamelog

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaparoo-labs/instance-core/pkg/logfrag"
)

func TestGetSpanBounds(t *testing.T) {
	log := New()
	for i := 0; i < 5; i++ {
		log.Append(LogEntry{Message: "line"})
	}

	assert.Len(t, log.GetSpan(0, 5), 5)
	assert.Len(t, log.GetSpan(2, 100), 3)
	assert.Empty(t, log.GetSpan(5, 5))
	assert.Empty(t, log.GetSpan(10, 20))
}

func TestGetEntry(t *testing.T) {
	log := New()
	log.Append(LogEntry{Message: "a"}, LogEntry{Message: "b"})

	e, ok := log.GetEntry(1)
	require.True(t, ok)
	assert.Equal(t, "b", e.Message)

	_, ok = log.GetEntry(2)
	assert.False(t, ok)
}

func TestSubscribeNotifiesOnAppend(t *testing.T) {
	log := New()
	ch := log.Subscribe()

	log.Append(LogEntry{Message: "x"})

	select {
	case <-ch:
	default:
		t.Fatal("expected subscriber channel to be closed after append")
	}
}

func TestNextIDMonotonic(t *testing.T) {
	a := NextID()
	b := NextID()
	assert.Greater(t, int64(b), int64(a))
}

func TestRegistryRehydratesHistoricalFiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/inst/gdl_logs", 0o755))

	frag := logfrag.FormatSystemEntry(1000, "hello from history")
	require.NoError(t, afero.WriteFile(fsys, "/inst/gdl_logs/2024-01-01_12-00-00.log", []byte(frag), 0o644))

	reg := NewRegistry(fsys)
	ids, err := reg.ForInstance("test", "/inst/gdl_logs")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	log, ok := reg.Get(ids[0])
	require.True(t, ok)
	require.Equal(t, 1, log.Len())
	entry, _ := log.GetEntry(0)
	assert.Equal(t, "hello from history", entry.Message)
	assert.Equal(t, StdOut, entry.Source)
}

func TestRegistryPrefersInMemoryLogsOverHistory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	reg := NewRegistry(fsys)

	id, log := reg.StartRun("test")
	log.Append(LogEntry{Message: "live"})

	ids, err := reg.ForInstance("test", "/inst/gdl_logs")
	require.NoError(t, err)
	require.Equal(t, []ID{id}, ids)
}
