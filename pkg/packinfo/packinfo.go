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

// Package packinfo implements a content-addressed manifest: a path ->
// MD5 mapping used as the merge base for modpack reconciliation. Files
// are streamed through an afero.Fs-injected client in fixed-size chunks
// into a hash.Hash rather than read fully into memory.
package packinfo

import (
	"crypto/md5" //nolint:gosec // content-addressing hash mandated by spec, not used for security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// chunkSize is the streaming read size used while hashing files.
const chunkSize = 64 * 1024

// Entry is one file's recorded hash.
type Entry struct {
	MD5 [16]byte
}

// MarshalJSON renders the md5 as lowercase hex: `{ "md5": "<32 hex>" }`.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MD5 string `json:"md5"`
	}{MD5: hex.EncodeToString(e.MD5[:])})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var aux struct {
		MD5 string `json:"md5"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	raw, err := hex.DecodeString(aux.MD5)
	if err != nil {
		return fmt.Errorf("packinfo: invalid md5 hex %q: %w", aux.MD5, err)
	}
	if len(raw) != 16 {
		return fmt.Errorf("packinfo: md5 must be 16 bytes, got %d", len(raw))
	}
	copy(e.MD5[:], raw)
	return nil
}

// Packinfo maps an instance-relative path, always beginning with "/" and
// using forward slashes, to its recorded hash.
type Packinfo map[string]Entry

// Filter is an optional whitelist restricting scan_dir to modpack-owned
// relative paths.
type Filter func(relPath string) bool

// ScanDir walks root on fsys, hashing every regular file with MD5, and
// returns the resulting Packinfo. filter, if non-nil, is consulted with
// the "/"-prefixed relative path and may exclude files from the result.
func ScanDir(fsys afero.Fs, root string, filter Filter) (Packinfo, error) {
	result := make(Packinfo)

	err := afero.Walk(fsys, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, relErr := relPath(root, p)
		if relErr != nil {
			return relErr
		}
		if filter != nil && !filter(rel) {
			return nil
		}

		sum, hashErr := hashFile(fsys, p)
		if hashErr != nil {
			return fmt.Errorf("packinfo: hashing %s: %w", p, hashErr)
		}
		result[rel] = Entry{MD5: sum}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("packinfo: scanning %s: %w", root, err)
	}
	return result, nil
}

func relPath(root, full string) (string, error) {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel, nil
}

func hashFile(fsys afero.Fs, p string) ([16]byte, error) {
	var zero [16]byte

	f, err := fsys.Open(p)
	if err != nil {
		return zero, err
	}
	defer func() { _ = f.Close() }()

	h := md5.New() //nolint:gosec // content-addressing hash mandated by spec
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return zero, err
	}

	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Parse deserializes the packinfo.json format.
func Parse(text []byte) (Packinfo, error) {
	var raw map[string]Entry
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, fmt.Errorf("packinfo: parse: %w", err)
	}
	return Packinfo(raw), nil
}

// Serialize renders a Packinfo with deterministically sorted keys (spec
// §4.3: "stable ordering, round-trips").
func Serialize(p Packinfo) ([]byte, error) {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(p[k])
		if err != nil {
			return nil, err
		}
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// Paths returns the sorted list of relative paths this packinfo owns.
func (p Packinfo) Paths() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
