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
	"fmt"
	"time"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
)

// LaunchStateKind enumerates the LaunchState variants.
type LaunchStateKind int

const (
	StateInactive LaunchStateKind = iota
	StatePreparing
	StateRunning
	StateDeleting
)

func (k LaunchStateKind) String() string {
	switch k {
	case StateInactive:
		return "inactive"
	case StatePreparing:
		return "preparing"
	case StateRunning:
		return "running"
	case StateDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// VisualTaskID identifies a task graph root (see pkg/tasks).
type VisualTaskID string

// LaunchState is the tagged union describing an instance's current
// lifecycle phase. Exactly one of the Kind-specific fields is
// meaningful, selected by Kind.
type LaunchState struct {
	Kind       LaunchStateKind
	FailedTask *VisualTaskID // Inactive only, may be nil
	TaskID     VisualTaskID  // Preparing only
	PID        int           // Running only
	StartTime  time.Time     // Running only
	LogID      int64         // Running only
	killSignal chan struct{} // Running only, not serialized
}

// Inactive constructs an Inactive state, optionally carrying the task id
// that failed most recently.
func Inactive(failedTask *VisualTaskID) LaunchState {
	return LaunchState{Kind: StateInactive, FailedTask: failedTask}
}

// Preparing constructs a Preparing state for the given task.
func Preparing(taskID VisualTaskID) LaunchState {
	return LaunchState{Kind: StatePreparing, TaskID: taskID}
}

// Running constructs a Running state. killSignal must be a channel the
// supervisor selects on to detect a kill request.
func Running(pid int, start time.Time, logID int64, killSignal chan struct{}) LaunchState {
	return LaunchState{
		Kind:       StateRunning,
		PID:        pid,
		StartTime:  start,
		LogID:      logID,
		killSignal: killSignal,
	}
}

// Deleting constructs a Deleting state.
func Deleting() LaunchState { return LaunchState{Kind: StateDeleting} }

// KillSignal returns the channel a Running state's supervisor listens on,
// or nil if this is not a Running state.
func (s LaunchState) KillSignal() chan struct{} { return s.killSignal }

// CanPrepare reports whether a prepare-game request may proceed from this
// state:
//   - Inactive -> accept
//   - Preparing with a failed task -> dismiss task, accept
//   - Preparing with an in-progress task -> reject
//   - Running -> reject
//   - Deleting -> reject
func (s LaunchState) CanPrepare() error {
	switch s.Kind {
	case StateInactive:
		return nil
	case StatePreparing:
		// Caller is responsible for having already checked the task's
		// terminal state and dismissed it; by the time CanPrepare is
		// consulted the state should already have transitioned back to
		// Inactive if the task failed. Reaching here in Preparing means
		// the task is still in progress.
		return &apperr.ErrStateConflict{Reason: "a preparation is already in progress"}
	case StateRunning:
		return &apperr.ErrStateConflict{Reason: "instance is already running"}
	case StateDeleting:
		return &apperr.ErrStateConflict{Reason: "instance is being deleted"}
	default:
		return fmt.Errorf("unknown launch state kind %v", s.Kind)
	}
}

// CanKill reports whether a kill request may proceed: only a Running
// instance can be killed.
func (s LaunchState) CanKill() error {
	if s.Kind != StateRunning {
		return &apperr.ErrStateConflict{Reason: "instance is not running"}
	}
	return nil
}
