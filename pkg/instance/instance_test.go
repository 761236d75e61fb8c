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

package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var time0 = time.Unix(0, 0)

func TestModSourcesFixUp(t *testing.T) {
	m := &ModSources{Channels: []ChannelPreference{{Channel: Stable, AllowUpdates: true}}}
	m.FixUp()

	have := map[ReleaseChannel]bool{}
	for _, c := range m.Channels {
		have[c.Channel] = true
	}
	assert.True(t, have[Alpha])
	assert.True(t, have[Beta])
	assert.True(t, have[Stable])

	for _, c := range m.Channels {
		if c.Channel == Alpha || c.Channel == Beta {
			assert.False(t, c.AllowUpdates, "fixed-up channels default to no updates")
		}
		if c.Channel == Stable {
			assert.True(t, c.AllowUpdates)
		}
	}
}

func TestModSourcesLowestAllowedChannel(t *testing.T) {
	m := ModSources{Channels: []ChannelPreference{
		{Channel: Stable, AllowUpdates: true},
		{Channel: Beta, AllowUpdates: true},
		{Channel: Alpha, AllowUpdates: false},
	}}
	got, ok := m.LowestAllowedChannel()
	require.True(t, ok)
	assert.Equal(t, Beta, got)
}

func TestLowestAllowedChannelNoneEnabled(t *testing.T) {
	m := ModSources{Channels: []ChannelPreference{
		{Channel: Stable, AllowUpdates: false},
	}}
	_, ok := m.LowestAllowedChannel()
	assert.False(t, ok)
}

func TestLaunchStateCanPrepare(t *testing.T) {
	assert.NoError(t, Inactive(nil).CanPrepare())
	assert.Error(t, Preparing("t1").CanPrepare())
	assert.Error(t, Running(1234, time0, 1, nil).CanPrepare())
	assert.Error(t, Deleting().CanPrepare())
}

func TestLaunchStateCanKill(t *testing.T) {
	assert.Error(t, Inactive(nil).CanKill())
	assert.Error(t, Preparing("t1").CanKill())
	assert.NoError(t, Running(1234, time0, 1, nil).CanKill())
	assert.Error(t, Deleting().CanKill())
}
