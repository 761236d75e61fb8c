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

package launch

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"

	"github.com/zaparoo-labs/instance-core/pkg/apperr"
	"github.com/zaparoo-labs/instance-core/pkg/paths"
	"github.com/zaparoo-labs/instance-core/pkg/versionmanifest"
)

// extractNatives unpacks every native library jar already fetched to
// pth.Libraries() into pth.Natives(), skipping
// META-INF/signature entries as the JVM does not need them on the
// loader's native library path. Uses archive/zip, the same stdlib-zip
// exception already justified for the staging extractor since no library
// in the corpus offers a zip codec.
func extractNatives(fs afero.Fs, pth paths.Instance, libs []versionmanifest.Library) error {
	for _, lib := range libs {
		if !lib.Native {
			continue
		}
		if !versionmanifest.Allows(lib.Rules, runtime.GOOS, runtime.GOARCH) {
			continue
		}
		jarPath := filepath.Join(pth.Libraries(), filepath.FromSlash(lib.Name))
		if err := extractNativeJar(fs, jarPath, pth.Natives()); err != nil {
			return err
		}
	}
	return nil
}

func extractNativeJar(fs afero.Fs, jarPath, destDir string) error {
	f, err := fs.Open(jarPath)
	if err != nil {
		return &apperr.ErrArchive{Path: jarPath, Err: err}
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return &apperr.ErrArchive{Path: jarPath, Err: err}
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return &apperr.ErrArchive{Path: jarPath, Err: err}
	}

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name, "META-INF/") {
			continue
		}

		destPath := filepath.Join(destDir, filepath.FromSlash(entry.Name))
		if err := fs.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return &apperr.ErrArchive{Path: entry.Name, Err: err}
		}

		rc, err := entry.Open()
		if err != nil {
			return &apperr.ErrArchive{Path: entry.Name, Err: err}
		}
		out, createErr := fs.Create(destPath)
		if createErr != nil {
			_ = rc.Close()
			return &apperr.ErrArchive{Path: entry.Name, Err: createErr}
		}
		_, copyErr := io.Copy(out, rc)
		_ = rc.Close()
		_ = out.Close()
		if copyErr != nil {
			return fmt.Errorf("launch: extracting native %s: %w", entry.Name, copyErr)
		}
	}
	return nil
}
