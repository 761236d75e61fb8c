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

package metacache

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  //nolint:revive // decoder side-effect registration
	_ "image/jpeg" //nolint:revive // decoder side-effect registration
	"image/png"

	"golang.org/x/image/draw"
)

// iconSize is the fixed thumbnail dimension mod icons are rescaled to
// before caching, keeping icon storage bounded regardless of how large an
// upstream project's logo is.
const iconSize = 64

// scaleModIcon decodes an arbitrary PNG/JPEG/GIF icon and rescales it to
// iconSize x iconSize using a high-quality (CatmullRom) interpolator,
// re-encoding the result as PNG.
func scaleModIcon(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding icon: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding icon: %w", err)
	}
	return buf.Bytes(), nil
}
