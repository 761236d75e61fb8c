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

package readysignal

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadyFormat(t *testing.T) {
	var buf bytes.Buffer
	WriteReady(&buf, 7172)
	assert.Equal(t, "_STATUS_:READY|7172\n", buf.String())
}

func TestWriteInstanceStateLines(t *testing.T) {
	var buf bytes.Buffer
	WriteGameLaunched(&buf, "minimize")
	WriteGameClosed(&buf, "minimize")
	WriteShowAppCloseWarning(&buf, true)
	assert.Equal(t,
		"_INSTANCE_STATE_:GAME_LAUNCHED|minimize\n_INSTANCE_STATE_:GAME_CLOSED|minimize\n_SHOW_APP_CLOSE_WARNING_:true\n",
		buf.String())
}

func TestWaitHealthyReturnsOnceServerIs200(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WaitHealthy(context.Background(), srv.Client(), srv.URL+"/health")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitHealthyTreats524AsRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(524)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WaitHealthy(context.Background(), srv.Client(), srv.URL+"/health")
	require.NoError(t, err)
}
