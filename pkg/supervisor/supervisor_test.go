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

package supervisor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaparoo-labs/instance-core/pkg/gamelog"
)

func TestRunCapturesExitCodeAndLog(t *testing.T) {
	fsys := afero.NewMemMapFs()
	clock := clockwork.NewFakeClock()
	sup := New(fsys, clock, zerolog.Nop())
	registry := gamelog.NewRegistry(fsys)

	cmd := exec.Command("sh", "-c", "echo hello-from-child; exit 0")

	var exitCode = -99
	done := make(chan struct{})
	handle, err := sup.Run(context.Background(), cmd, "test", "/inst/gdl_logs/run.log", registry, Hooks{}, Callbacks{
		OnExit: func(code int) {
			exitCode = code
			close(done)
		},
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnExit")
	}
	<-handle.Done

	assert.Equal(t, 0, exitCode)
	assert.GreaterOrEqual(t, handle.Log.Len(), 1)

	data, readErr := afero.ReadFile(fsys, "/inst/gdl_logs/run.log")
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "hello-from-child")
}

func TestKillSignalTerminatesChild(t *testing.T) {
	fsys := afero.NewMemMapFs()
	clock := clockwork.NewFakeClock()
	sup := New(fsys, clock, zerolog.Nop())
	registry := gamelog.NewRegistry(fsys)

	cmd := exec.Command("sleep", "30")

	done := make(chan struct{})
	handle, err := sup.Run(context.Background(), cmd, "test", "/inst/gdl_logs/run.log", registry, Hooks{}, Callbacks{
		OnExit: func(int) { close(done) },
	})
	require.NoError(t, err)

	close(handle.KillSignal)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for kill to take effect")
	}
}
