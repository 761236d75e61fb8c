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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

// TestMain guards this package's goroutines: Manager's subscriber channels
// and the Hub's broadcast loop are the heaviest goroutine fan-out in this
// module, so a leaked subscriber is most likely to show up here first.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubtaskAggregationBasic(t *testing.T) {
	m, _ := NewManager()
	task := m.SpawnTask()

	a := task.Subtask("download")
	a.SetWeight(3)
	b := task.Subtask("scan")
	b.SetWeight(1)

	assert.InDelta(t, 0, task.Progress(), 0.0001)

	a.UpdateDownload(50, 100, false)
	// (3*0.5 + 1*0) / 4 = 0.375
	assert.InDelta(t, 0.375, task.Progress(), 0.0001)

	a.Complete()
	b.UpdateItems(1, 1)
	assert.InDelta(t, 1.0, task.Progress(), 0.0001)
	assert.True(t, task.IsComplete())
}

func TestSubtaskFailurePropagates(t *testing.T) {
	m, _ := NewManager()
	task := m.SpawnTask()
	a := task.Subtask("step1")
	a.StartOpaque()

	state, _ := task.State()
	assert.Equal(t, TaskKnownProgress, state)

	wantErr := errors.New("boom")
	a.Fail(wantErr)

	state, err := task.State()
	assert.Equal(t, TaskFailed, state)
	assert.ErrorIs(t, err, wantErr)
}

func TestDismissTaskRejectsNonFailed(t *testing.T) {
	m, _ := NewManager()
	task := m.SpawnTask()
	sub := task.Subtask("x")
	sub.StartOpaque()

	err := m.DismissTask(task.ID())
	require.Error(t, err)

	sub.Fail(errors.New("fail"))
	require.NoError(t, m.DismissTask(task.ID()))

	_, ok := m.Get(task.ID())
	assert.False(t, ok)
}

func TestFailedSubtaskExcludedFromAggregate(t *testing.T) {
	m, _ := NewManager()
	task := m.SpawnTask()
	good := task.Subtask("good")
	good.SetWeight(1)
	good.Complete()

	bad := task.Subtask("bad")
	bad.SetWeight(5)
	bad.Fail(errors.New("nope"))

	// failed subtasks are excluded from the weighted average entirely
	assert.InDelta(t, 1.0, task.Progress(), 0.0001)
}

// TestProgressMonotonicWithWeights is the property test required by spec
// §8 property 5: for any task tree with weights, overall progress is
// monotonically non-decreasing as leaves move towards Complete, and equals
// 1.0 when all leaves are Complete.
func TestProgressMonotonicWithWeights(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		m, _ := NewManager()
		task := m.SpawnTask()

		subs := make([]*Subtask, n)
		for i := range n {
			subs[i] = task.Subtask("s")
			w := rapid.Float32Range(0.1, 10).Draw(rt, "w")
			subs[i].SetWeight(w)
		}

		last := task.Progress()
		for i := range n {
			total := rapid.Int64Range(1, 1000).Draw(rt, "total")
			steps := rapid.IntRange(1, 5).Draw(rt, "steps")
			for s := 1; s <= steps; s++ {
				cur := total * int64(s) / int64(steps)
				subs[i].UpdateDownload(cur, total, false)
				got := task.Progress()
				if got < last-1e-9 {
					rt.Fatalf("progress decreased: %v -> %v", last, got)
				}
				last = got
			}
			subs[i].Complete()
			got := task.Progress()
			if got < last-1e-9 {
				rt.Fatalf("progress decreased on complete: %v -> %v", last, got)
			}
			last = got
		}

		if diff := 1.0 - task.Progress(); diff > 1e-9 || diff < -1e-9 {
			rt.Fatalf("expected progress 1.0 when all complete, got %v", task.Progress())
		}
	})
}

func TestWaitWithLog(t *testing.T) {
	m, _ := NewManager()
	task := m.SpawnTask()
	sub := task.Subtask("only")

	go func() {
		sub.StartOpaque()
		sub.Complete()
	}()

	err := m.WaitWithLog(task.ID(), nil)
	assert.NoError(t, err)
	assert.True(t, task.IsComplete())
}
