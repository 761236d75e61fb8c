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

package export

import (
	"archive/zip"
	"io"
)

// archiveWriter wraps archive/zip.Writer, the same stdlib-zip exception
// already justified for C7's staging extractor and C9's native-jar
// unpacking: no library in the retrieved corpus offers a zip codec.
type archiveWriter struct {
	zw *zip.Writer
}

func newZipWriter(w io.Writer) *archiveWriter {
	return &archiveWriter{zw: zip.NewWriter(w)}
}

func (a *archiveWriter) writeFile(name string, data []byte) error {
	f, err := a.zw.Create(name)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

func (a *archiveWriter) close() error {
	return a.zw.Close()
}
