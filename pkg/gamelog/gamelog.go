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

// Package gamelog implements the append-only game log buffer: one
// GameLog per run, range queries, and a broadcast-on-change
// subscription, plus lazy rehydration of historical per-run log files.
// Entries are fed through logfrag's log4j-fragment parser before being
// appended, and the broadcast channel is the same coalesced-
// notification, shared-handle-read style pkg/tasks uses.
package gamelog

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/logfrag"
)

// Source tags which stream an entry came from.
type Source int

const (
	System Source = iota
	StdOut
	StdErr
)

// LogEntry is one line of a run's log.
type LogEntry struct {
	Logger      string
	Message     string
	Thread      string
	Source      Source
	Level       logfrag.Level
	TimestampMs int64
}

func fromFrag(src Source, e logfrag.Entry) LogEntry {
	return LogEntry{
		Source:      src,
		Logger:      e.Logger,
		Message:     e.Message,
		Thread:      e.Thread,
		Level:       e.Level,
		TimestampMs: e.TimestampMs,
	}
}

// ID is a monotonic per-process identifier allocated at run start.
type ID int64

var idCounter int64

// NextID allocates the next monotonic GameLogId.
func NextID() ID {
	return ID(atomic.AddInt64(&idCounter, 1))
}

// GameLog is the append-only sequence of entries for one run.
type GameLog struct {
	mu      sync.RWMutex
	entries []LogEntry
	bcast   chan struct{} // closed-and-replaced on every append
}

// New constructs an empty GameLog.
func New() *GameLog {
	return &GameLog{bcast: make(chan struct{})}
}

// Append adds entries to the log and notifies subscribers.
func (g *GameLog) Append(entries ...LogEntry) {
	if len(entries) == 0 {
		return
	}
	g.mu.Lock()
	g.entries = append(g.entries, entries...)
	old := g.bcast
	g.bcast = make(chan struct{})
	g.mu.Unlock()
	close(old)
}

// Len returns the number of entries currently in the log.
func (g *GameLog) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// GetEntry returns the entry at line, if present.
func (g *GameLog) GetEntry(line int) (LogEntry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if line < 0 || line >= len(g.entries) {
		return LogEntry{}, false
	}
	return g.entries[line], true
}

// GetSpan returns entries [start,end), truncated at len(): empty when
// start >= len or start >= end.
func (g *GameLog) GetSpan(start, end int) []LogEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.entries)
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= n || start >= end {
		return nil
	}
	out := make([]LogEntry, end-start)
	copy(out, g.entries[start:end])
	return out
}

// Subscribe returns a channel that is closed the next time the log
// changes. Callers re-subscribe after each wakeup and re-read the log via
// the shared *GameLog handle: subscribers observe change notifications,
// not values.
func (g *GameLog) Subscribe() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bcast
}

// Registry owns the set of live (in-memory) GameLogs for the process plus
// rehydration of historical per-run files on demand.
type Registry struct {
	fs afero.Fs

	mu   sync.Mutex
	logs map[ID]*GameLog
	// byInstance indexes the most recent in-memory logs for an instance,
	// in run order, so historical rehydration can tell whether any
	// in-memory logs already exist for that instance.
	byInstance map[string][]ID
}

// NewRegistry constructs a Registry backed by fsys for historical file
// rehydration.
func NewRegistry(fsys afero.Fs) *Registry {
	return &Registry{fs: fsys, logs: make(map[ID]*GameLog), byInstance: make(map[string][]ID)}
}

// StartRun allocates a new GameLogId and an empty GameLog for a freshly
// launched instance run.
func (r *Registry) StartRun(instanceShortpath string) (ID, *GameLog) {
	id := NextID()
	log := New()
	r.mu.Lock()
	r.logs[id] = log
	r.byInstance[instanceShortpath] = append(r.byInstance[instanceShortpath], id)
	r.mu.Unlock()
	return id, log
}

// Get returns a log by id, whether live or already rehydrated.
func (r *Registry) Get(id ID) (*GameLog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[id]
	return l, ok
}

// runFileLayout is the historical log filename format:
// gdl_logs/YYYY-MM-DD_HH-MM-SS.log.
const runFileLayout = "2006-01-02_15-04-05"

// ForInstance returns every GameLog for instanceShortpath, oldest first.
// If no in-memory logs exist yet, it rehydrates every file under
// gdlLogsDir by parsing its filename as a timestamp and feeding the file
// bytes through the same logfrag.Processor used at runtime, tagging every
// entry StdOut.
func (r *Registry) ForInstance(instanceShortpath, gdlLogsDir string) ([]ID, error) {
	r.mu.Lock()
	existing := append([]ID(nil), r.byInstance[instanceShortpath]...)
	r.mu.Unlock()
	if len(existing) > 0 {
		return existing, nil
	}

	entries, err := afero.ReadDir(r.fs, gdlLogsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("gamelog: reading %s: %w", gdlLogsDir, err)
	}

	type fileRun struct {
		when time.Time
		name string
	}
	var runs []fileRun
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".log")
		when, parseErr := time.Parse(runFileLayout, base)
		if parseErr != nil {
			continue
		}
		runs = append(runs, fileRun{when: when, name: e.Name()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].when.Before(runs[j].when) })

	var ids []ID
	for _, run := range runs {
		data, readErr := afero.ReadFile(r.fs, gdlLogsDir+"/"+run.name)
		if readErr != nil {
			return ids, fmt.Errorf("gamelog: reading %s: %w", run.name, readErr)
		}
		proc := logfrag.NewProcessor()
		frags := proc.Feed(data)
		frags = append(frags, proc.Flush()...)

		log := New()
		for _, f := range frags {
			log.Append(fromFrag(StdOut, f))
		}

		id := NextID()
		r.mu.Lock()
		r.logs[id] = log
		r.byInstance[instanceShortpath] = append(r.byInstance[instanceShortpath], id)
		r.mu.Unlock()
		ids = append(ids, id)
	}
	return ids, nil
}

// InvalidID is returned by Get-style lookups when the id refers to no
// known log.
var InvalidID = apperr.ErrInvalidGameLogID
