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

package tasks

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// writeWait bounds how long a single broadcast frame may take to write,
// so one stalled client never backs up the others.
const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// progressMessage is the frame a connected client receives each time a
// task's aggregate progress changes.
type progressMessage struct {
	TaskID   ID      `json:"taskId"`
	Progress float64 `json:"progress"`
	Complete bool    `json:"complete"`
}

// Hub fans a Manager's task-change notifications out to websocket
// clients, the transport a frontend uses to receive live task-graph
// progress.
type Hub struct {
	mgr    *Manager
	logger zerolog.Logger
}

// NewHub wraps mgr for websocket broadcast.
func NewHub(mgr *Manager, logger zerolog.Logger) *Hub {
	return &Hub{mgr: mgr, logger: logger.With().Str("component", "tasks.hub").Logger()}
}

// ServeWS upgrades the request and streams task progress to the client
// until it disconnects or the request context is cancelled. Intended to
// be mounted at whatever path a frontend's RPC layer reserves for task
// subscriptions.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ch := h.mgr.subscribe()
	ctx := r.Context()

	// Reading is what notices the client going away; incoming frames are
	// discarded.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case id, ok := <-ch:
			if !ok {
				return
			}
			task, ok := h.mgr.Get(id)
			if !ok {
				continue
			}
			msg := progressMessage{
				TaskID:   id,
				Progress: task.Progress(),
				Complete: task.IsComplete(),
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error().Err(err).Msg("encoding task progress")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}
}
