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

// Package app assembles every component behind one manager arena,
// resolving a cyclic-ownership problem: the manager graph (instance
// registry <-> metadata cache <-> task manager <-> instance registry) is
// mutually referential, but a constructor cannot hand out a pointer to a
// struct that does not exist yet. A root Inner owns every manager, and
// each manager holds a late-bound back-reference through a small
// reusable Ref type rather than one-off fields per manager.
package app

import "fmt"

// Ref is a late-bound, write-once handle to a value that may not exist
// yet at the point a holder is constructed: it upgrades to a shared
// reference on use. The handle is initialized exactly once at startup;
// an uninitialized access is a programming error, not a runtime
// condition, so it panics rather than returning a zero value.
type Ref[T any] struct {
	v *T
}

// Bind installs v as the referenced value. Bind may be called exactly
// once; a second call panics, since re-binding after managers have
// already captured the first value would silently orphan them.
func (r *Ref[T]) Bind(v *T) {
	if r.v != nil {
		panic("app: Ref already bound")
	}
	if v == nil {
		panic("app: Ref.Bind(nil)")
	}
	r.v = v
}

// Get upgrades the handle to the bound value. It panics if called before
// Bind: an uninitialized access is a programming error.
func (r *Ref[T]) Get() *T {
	if r.v == nil {
		panic(fmt.Sprintf("app: Ref[%T] accessed before bind", *new(T)))
	}
	return r.v
}

// Bound reports whether Bind has already run, for callers that want to
// tolerate an unbound ref (e.g. optional background workers started
// before the arena finishes wiring).
func (r *Ref[T]) Bound() bool { return r.v != nil }
