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

// Package readysignal emits a small set of literal stdout status lines
// and runs the readiness probe retry loop (200ms intervals, up to 40s).
// It owns the narrow signaling contract a frontend process watches
// stdout for, alongside an HTTP health-check poll.
package readysignal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProbeInterval and ProbeTimeout bound the readiness probe retry loop.
const (
	ProbeInterval = 200 * time.Millisecond
	ProbeTimeout  = 40 * time.Second
)

// WriteReady writes `_STATUS_:READY|<port>` to w, the line a frontend
// process greps for to learn the RPC server's bound port.
func WriteReady(w io.Writer, port int) {
	fmt.Fprintf(w, "_STATUS_:READY|%d\n", port)
}

// WriteGameLaunched writes `_INSTANCE_STATE_:GAME_LAUNCHED|<action>` when
// an instance transitions into Running.
func WriteGameLaunched(w io.Writer, action string) {
	fmt.Fprintf(w, "_INSTANCE_STATE_:GAME_LAUNCHED|%s\n", action)
}

// WriteGameClosed writes `_INSTANCE_STATE_:GAME_CLOSED|<action>` when an
// instance returns to Inactive from Running.
func WriteGameClosed(w io.Writer, action string) {
	fmt.Fprintf(w, "_INSTANCE_STATE_:GAME_CLOSED|%s\n", action)
}

// WriteShowAppCloseWarning writes `_SHOW_APP_CLOSE_WARNING_:<bool>`
// whenever that setting changes.
func WriteShowAppCloseWarning(w io.Writer, show bool) {
	fmt.Fprintf(w, "_SHOW_APP_CLOSE_WARNING_:%t\n", show)
}

// WaitHealthy polls healthURL every ProbeInterval until it returns HTTP
// 200 or ProbeTimeout elapses. A 524 ("origin timeout") response is
// treated as a retry, not a failure, since the probe is itself an HTTP
// round trip subject to upstream proxy behavior.
func WaitHealthy(ctx context.Context, client *http.Client, healthURL string) error {
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	ticker := time.NewTicker(ProbeInterval)
	defer ticker.Stop()

	for {
		if ok, err := probe(ctx, client, healthURL); err != nil {
			return err
		} else if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("readysignal: %s did not become healthy within %s", healthURL, ProbeTimeout)
		case <-ticker.C:
		}
	}
}

func probe(ctx context.Context, client *http.Client, healthURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("readysignal: building health request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		// A connection error (server not listening yet) is a retry, not
		// a fatal error.
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == 524 {
		return false, nil
	}
	return resp.StatusCode == http.StatusOK, nil
}
