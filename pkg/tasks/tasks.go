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

// Package tasks implements the visual task graph: a tree of weighted
// subtasks aggregating into one progress-bearing task the UI observes.
// Changes to any subtask coalesce onto a "latest value wins" update
// channel that notifies subscribers without blocking.
package tasks

import (
	"sync"

	"github.com/google/uuid"
	"github.com/zaparoo-labs/instance-core/pkg/apperr"
)

// SubtaskState is the lifecycle of a single subtask.
type SubtaskState int

const (
	SubtaskPending SubtaskState = iota
	SubtaskOpaqueActive
	SubtaskDownloading
	SubtaskItems
	SubtaskComplete
	SubtaskFailed
)

// Progress is the visible snapshot of a subtask.
type Progress struct {
	State         SubtaskState
	Current       int64
	Total         int64
	Indeterminate bool
}

// fraction returns this subtask's contribution to its parent's weighted
// aggregate: Opaque contributes 0 then 1, Download/Items contribute
// current/total (0 if indeterminate or total==0).
func (p Progress) fraction() float64 {
	switch p.State {
	case SubtaskComplete:
		return 1
	case SubtaskOpaqueActive, SubtaskPending, SubtaskFailed:
		return 0
	case SubtaskDownloading, SubtaskItems:
		if p.Indeterminate || p.Total <= 0 {
			return 0
		}
		f := float64(p.Current) / float64(p.Total)
		if f > 1 {
			f = 1
		}
		return f
	default:
		return 0
	}
}

// Subtask is one node in a task's subtask list.
type Subtask struct {
	mu       sync.Mutex
	name     string
	weight   float32
	progress Progress
	err      error
	onChange func()
}

func newSubtask(name string, onChange func()) *Subtask {
	return &Subtask{name: name, weight: 1.0, onChange: onChange}
}

// SetWeight overrides the default weight of 1.0.
func (s *Subtask) SetWeight(w float32) {
	s.mu.Lock()
	s.weight = w
	s.mu.Unlock()
}

// StartOpaque marks the subtask as actively running with no measurable
// progress.
func (s *Subtask) StartOpaque() {
	s.set(Progress{State: SubtaskOpaqueActive})
}

// CompleteOpaque marks an opaque subtask done.
func (s *Subtask) CompleteOpaque() {
	s.set(Progress{State: SubtaskComplete})
}

// UpdateDownload reports byte-level download progress.
func (s *Subtask) UpdateDownload(current, total int64, indeterminate bool) {
	s.set(Progress{State: SubtaskDownloading, Current: current, Total: total, Indeterminate: indeterminate})
}

// UpdateItems reports item-count progress (e.g. N of M files scanned).
func (s *Subtask) UpdateItems(done, total int64) {
	s.set(Progress{State: SubtaskItems, Current: done, Total: total})
}

// Complete marks the subtask as finished successfully, regardless of its
// current lifecycle.
func (s *Subtask) Complete() {
	s.set(Progress{State: SubtaskComplete})
}

// Fail marks the subtask (and, by aggregation, its owning task) as failed.
func (s *Subtask) Fail(err error) {
	s.mu.Lock()
	s.progress = Progress{State: SubtaskFailed}
	s.err = err
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *Subtask) set(p Progress) {
	s.mu.Lock()
	s.progress = p
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Snapshot returns a copy of the subtask's current progress, weight, and
// error (if failed).
func (s *Subtask) Snapshot() (name string, weight float32, progress Progress, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.weight, s.progress, s.err
}

// TaskState is the aggregate state of a whole task.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskKnownProgress
	TaskFailed
)

// ID identifies a task graph root.
type ID string

// Task is the root of one visible task: an ordered list of subtasks
// aggregating into a single progress value and terminal state.
type Task struct {
	mu       sync.Mutex
	id       ID
	subtasks []*Subtask
	manager  *Manager
}

func newTask(m *Manager) *Task {
	return &Task{id: ID(uuid.NewString()), manager: m}
}

// ID returns the task's unique identifier.
func (t *Task) ID() ID { return t.id }

// Subtask appends a new subtask with default weight 1.0 and returns it.
func (t *Task) Subtask(name string) *Subtask {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := newSubtask(name, t.signalChange)
	t.subtasks = append(t.subtasks, st)
	return st
}

func (t *Task) signalChange() {
	t.mu.Lock()
	id := t.id
	m := t.manager
	t.mu.Unlock()
	if m == nil {
		return
	}
	m.broadcast(id)
}

// Progress returns the aggregate progress fraction in [0,1]: sum(weight *
// subprogress) / sum(weight) over non-failed subtasks. A task with no
// subtasks reports 0.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var weightSum, progressSum float64
	for _, st := range t.subtasks {
		_, w, p, _ := st.Snapshot()
		if p.State == SubtaskFailed {
			continue
		}
		weightSum += float64(w)
		progressSum += float64(w) * p.fraction()
	}
	if weightSum == 0 {
		return 0
	}
	return progressSum / weightSum
}

// State returns the task's terminal state plus the first failure error, if
// any subtask has failed.
func (t *Task) State() (TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	any := false
	for _, st := range t.subtasks {
		_, _, p, err := st.Snapshot()
		any = any || p.State != SubtaskPending
		if p.State == SubtaskFailed {
			return TaskFailed, err
		}
	}
	if !any {
		return TaskPending, nil
	}
	return TaskKnownProgress, nil
}

// IsComplete reports whether every subtask has reached SubtaskComplete.
func (t *Task) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subtasks) == 0 {
		return false
	}
	for _, st := range t.subtasks {
		_, _, p, _ := st.Snapshot()
		if p.State != SubtaskComplete {
			return false
		}
	}
	return true
}

// Manager owns the set of live tasks: it spawns, looks up, dismisses, and
// waits on them.
type Manager struct {
	mu          sync.Mutex
	tasks       map[ID]*Task
	notify      chan ID
	subscribers []chan ID
}

// NewManager constructs an empty task manager. The returned notify channel
// emits a task ID every time any of that task's subtasks change; sends
// never block, so a slow consumer drops notifications rather than
// stalling the producer.
func NewManager() (*Manager, <-chan ID) {
	ch := make(chan ID, 64)
	m := &Manager{tasks: make(map[ID]*Task), notify: ch}
	m.subscribers = append(m.subscribers, ch)
	return m, ch
}

// subscribe returns a private notification channel, independent of the
// channel returned by NewManager, so internal consumers (WaitWithLog) never
// race external ones for the same deliveries.
func (m *Manager) subscribe() chan ID {
	ch := make(chan ID, 64)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) broadcast(id ID) {
	m.mu.Lock()
	subs := m.subscribers
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- id:
		default:
			// Full: drop the oldest pending notification so the newest
			// one is still delivered.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- id:
			default:
			}
		}
	}
}

// SpawnTask creates and registers a new task.
func (m *Manager) SpawnTask() *Task {
	t := newTask(m)
	m.mu.Lock()
	m.tasks[t.id] = t
	m.mu.Unlock()
	return t
}

// Get returns a previously spawned task by id.
func (m *Manager) Get(id ID) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// DismissTask removes a task from the manager. It rejects tasks that have
// not failed.
func (m *Manager) DismissTask(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return apperr.ErrInvalidInstanceID
	}
	state, _ := t.State()
	if state != TaskFailed {
		return apperr.ErrNonFailedDismiss
	}
	delete(m.tasks, id)
	return nil
}

// WaitWithLog blocks until the task reaches a terminal state (Failed or
// all subtasks Complete). Intended for test harnesses that need to drive
// a task to completion synchronously.
func (m *Manager) WaitWithLog(id ID, onUpdate func(progress float64)) error {
	t, ok := m.Get(id)
	if !ok {
		return apperr.ErrInvalidInstanceID
	}
	updates := m.subscribe()
	for {
		state, err := t.State()
		if onUpdate != nil {
			onUpdate(t.Progress())
		}
		if state == TaskFailed {
			return err
		}
		if t.IsComplete() {
			return nil
		}
		<-updates
	}
}
