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

// Package reconcile implements the three-way merge between the live
// instance tree, a freshly staged modpack tree, and the previous
// packinfo: a disabled-sibling lookup, a saves-folder carveout, and a
// grouped audit log, built on the same afero-injected, streaming-hash
// style already established in pkg/packinfo.
package reconcile

import (
	"bytes"
	"crypto/md5" //nolint:gosec // content-addressing hash mandated by spec, not used for security
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/packinfo"
	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/tasks"
)

// Outcome classifies what happened to one path during reconciliation.
type Outcome int

const (
	DeletedByUser Outcome = iota
	ModifiedByUser
	Deleted
	InSaveFolder
	Replaced
	New
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case DeletedByUser:
		return "DeletedByUser"
	case ModifiedByUser:
		return "ModifiedByUser"
	case Deleted:
		return "Deleted"
	case InSaveFolder:
		return "InSaveFolder"
	case Replaced:
		return "Replaced"
	case New:
		return "New"
	case Skipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Record is one path's reconciliation outcome, carrying the before/after
// hashes needed for the audit log's Modified section.
type Record struct {
	Path     string
	Outcome  Outcome
	Original string // hex md5, populated for ModifiedByUser
	Current  string // hex md5, populated for ModifiedByUser
}

// Result is the full reconciliation outcome, ready to commit.
type Result struct {
	Records     []Record
	NewPackinfo packinfo.Packinfo
}

// Reconciler runs C8 for one instance.
type Reconciler struct {
	fs afero.Fs
}

// New constructs a Reconciler.
func New(fs afero.Fs) *Reconciler {
	return &Reconciler{fs: fs}
}

// savesPrefix is the one path prefix reconciliation must never mutate.
const savesPrefix = "/saves"

// Run merges the live tree at dataRoot against the staging tree at
// stagingRoot, using prevPackinfo as the merge base P and
// stagingSnapshot as N (the set of paths the stager actually produced).
// It mutates the live tree in place and returns the records plus the new
// authoritative packinfo, but does not write packinfo.json, the audit
// file, or remove the staging tree; call WriteAudit and then Commit for
// that once the caller has decided the merge succeeded.
func (r *Reconciler) Run(
	dataRoot, stagingRoot string,
	prevPackinfo packinfo.Packinfo,
	stagingSnapshot packinfo.Packinfo,
	task *tasks.Task,
) (Result, error) {
	sub := task.Subtask("reconcile modpack")
	sub.StartOpaque()

	var records []Record
	handled := make(map[string]bool, len(prevPackinfo))

	for _, relPath := range prevPackinfo.Paths() {
		oldEntry := prevPackinfo[relPath]
		handled[relPath] = true

		livePath, _, found := r.findLive(dataRoot, relPath)
		if !found {
			records = append(records, Record{Path: relPath, Outcome: DeletedByUser})
			continue
		}

		currentSum, err := hashFile(r.fs, livePath)
		if err != nil {
			sub.Fail(err)
			return Result{}, fmt.Errorf("reconcile: hashing %s: %w", livePath, err)
		}
		if currentSum != oldEntry.MD5 {
			records = append(records, Record{
				Path:     relPath,
				Outcome:  ModifiedByUser,
				Original: hex.EncodeToString(oldEntry.MD5[:]),
				Current:  hex.EncodeToString(currentSum[:]),
			})
			continue
		}

		_, inStaging := stagingSnapshot[relPath]
		switch {
		case !inStaging && strings.HasPrefix(relPath, savesPrefix):
			records = append(records, Record{Path: relPath, Outcome: InSaveFolder})
		case !inStaging:
			if err := r.fs.Remove(livePath); err != nil {
				sub.Fail(err)
				return Result{}, fmt.Errorf("reconcile: deleting %s: %w", livePath, err)
			}
			records = append(records, Record{Path: relPath, Outcome: Deleted})
		default:
			stagingPath := filepath.Join(stagingRoot, filepath.FromSlash(relPath))
			stagingInfo, statErr := r.fs.Stat(stagingPath)
			if statErr != nil || stagingInfo.IsDir() {
				continue
			}

			stagingSum, sumErr := hashFile(r.fs, stagingPath)
			if sumErr != nil {
				sub.Fail(sumErr)
				return Result{}, fmt.Errorf("reconcile: hashing staged %s: %w", relPath, sumErr)
			}
			if stagingSum == oldEntry.MD5 {
				records = append(records, Record{Path: relPath, Outcome: Skipped})
				continue
			}

			// livePath already resolved to whichever of the canonical or
			// .disabled sibling exists; replacing it in place preserves
			// the user's enable/disable choice.
			if err := r.moveInto(stagingPath, livePath); err != nil {
				sub.Fail(err)
				return Result{}, fmt.Errorf("reconcile: replacing %s: %w", relPath, err)
			}
			records = append(records, Record{Path: relPath, Outcome: Replaced})
		}
	}

	for _, relPath := range stagingSnapshot.Paths() {
		if handled[relPath] {
			continue
		}
		stagingPath := filepath.Join(stagingRoot, filepath.FromSlash(relPath))
		info, statErr := r.fs.Stat(stagingPath)
		if statErr != nil || info.IsDir() {
			continue
		}
		livePath := filepath.Join(dataRoot, filepath.FromSlash(relPath))
		if err := r.moveInto(stagingPath, livePath); err != nil {
			sub.Fail(err)
			return Result{}, fmt.Errorf("reconcile: adding %s: %w", relPath, err)
		}
		records = append(records, Record{Path: relPath, Outcome: New})
	}

	newPackinfo, err := packinfo.ScanDir(r.fs, dataRoot, nil)
	if err != nil {
		sub.Fail(err)
		return Result{}, fmt.Errorf("reconcile: scanning merged tree: %w", err)
	}

	sub.Complete()
	return Result{Records: records, NewPackinfo: newPackinfo}, nil
}

// findLive resolves relPath under dataRoot, also checking for a
// ".disabled"-suffixed sibling.
func (r *Reconciler) findLive(dataRoot, relPath string) (resolved string, disabled bool, found bool) {
	canonical := filepath.Join(dataRoot, filepath.FromSlash(relPath))
	if ok, _ := afero.Exists(r.fs, canonical); ok {
		return canonical, false, true
	}
	disabledPath := canonical + ".disabled"
	if ok, _ := afero.Exists(r.fs, disabledPath); ok {
		return disabledPath, true, true
	}
	return "", false, false
}

// moveInto copies src over dst (creating dst's parent dirs), then removes
// src. afero.Fs implementations are not guaranteed to support cross-volume
// Rename uniformly, so this always does copy-then-remove rather than
// relying on Rename's atomicity.
func (r *Reconciler) moveInto(src, dst string) error {
	if err := r.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := r.fs.Open(src)
	if err != nil {
		return err
	}
	out, err := r.fs.Create(dst)
	if err != nil {
		_ = in.Close()
		return err
	}
	_, copyErr := io.Copy(out, in)
	_ = in.Close()
	_ = out.Close()
	if copyErr != nil {
		return copyErr
	}
	return r.fs.Remove(src)
}

func hashFile(fsys afero.Fs, p string) ([16]byte, error) {
	var zero [16]byte
	f, err := fsys.Open(p)
	if err != nil {
		return zero, err
	}
	defer func() { _ = f.Close() }()

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return zero, err
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// WriteAudit writes the grouped audit log, overwriting any prior audit
// at auditPath. Entries that blocked a replace (the user modified or
// deleted the live file) are grouped under "Files that could not be
// replaced:"; InSaveFolder and Skipped carry no visible change and are
// not reported.
func WriteAudit(fsys afero.Fs, auditPath string, records []Record) error {
	groups := map[Outcome][]Record{}
	for _, rec := range records {
		groups[rec.Outcome] = append(groups[rec.Outcome], rec)
	}

	var buf bytes.Buffer
	writeGroup := func(heading string, outcomes ...Outcome) {
		var recs []Record
		for _, o := range outcomes {
			recs = append(recs, groups[o]...)
		}
		if len(recs) == 0 {
			return
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].Path < recs[j].Path })
		fmt.Fprintf(&buf, "%s\n", heading)
		for _, rec := range recs {
			switch rec.Outcome {
			case ModifiedByUser:
				fmt.Fprintf(&buf, " - %s: modified by user\n     original md5: %s\n     current md5:  %s\n",
					rec.Path, rec.Original, rec.Current)
			case DeletedByUser:
				fmt.Fprintf(&buf, " - %s: deleted by user\n", rec.Path)
			default:
				fmt.Fprintf(&buf, " - %s\n", rec.Path)
			}
		}
	}

	writeGroup("Files that could not be replaced:", ModifiedByUser, DeletedByUser)
	writeGroup("Files deleted:", Deleted)
	writeGroup("Files replaced:", Replaced)
	writeGroup("Files created:", New)

	if err := fsys.MkdirAll(filepath.Dir(auditPath), 0o755); err != nil {
		return fmt.Errorf("reconcile: creating audit dir: %w", err)
	}
	if err := afero.WriteFile(fsys, auditPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("reconcile: writing audit file: %w", err)
	}
	return nil
}

// Commit promotes the staged packinfo to authoritative, removes the
// staging tree, and touches the modpack-complete marker. Call only
// after Run and WriteAudit have both succeeded.
func Commit(fsys afero.Fs, p paths.Instance) error {
	if err := fsys.Rename(p.TmpPackinfo(), p.Packinfo()); err != nil {
		return fmt.Errorf("reconcile: promoting packinfo: %w", err)
	}
	if err := fsys.RemoveAll(filepath.Join(p.Setup(), "staging")); err != nil {
		return fmt.Errorf("reconcile: removing staging tree: %w", err)
	}
	if err := afero.WriteFile(fsys, p.ModpackCompleteMarker(), []byte{}, 0o644); err != nil {
		return fmt.Errorf("reconcile: writing completion marker: %w", err)
	}
	return nil
}
