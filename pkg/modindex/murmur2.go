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

package modindex

import "encoding/binary"

// curseForgeMurmur2 reproduces CurseForge's fingerprint hash: a standard
// 32-bit MurmurHash2 (seed 1) computed over the file's bytes with every
// whitespace byte (tab, newline, carriage return, space) stripped first.
// No ecosystem library implements this CF-specific variant, so it is
// hand-rolled here rather than imported (see SPEC_FULL.md's domain-stack
// notes on why this one piece is the legitimate exception to "never
// stdlib").
func curseForgeMurmur2(data []byte) uint32 {
	stripped := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case 9, 10, 13, 32:
			continue
		default:
			stripped = append(stripped, b)
		}
	}
	return murmur2(stripped, 1)
}

func murmur2(data []byte, seed uint32) uint32 {
	const m = 0x5bd1e995
	const r = 24

	length := uint32(len(data))
	h := seed ^ length
	i := 0

	for length >= 4 {
		k := binary.LittleEndian.Uint32(data[i : i+4])
		k *= m
		k ^= k >> r
		k *= m
		h *= m
		h ^= k
		i += 4
		length -= 4
	}

	switch length {
	case 3:
		h ^= uint32(data[i+2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[i+1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[i])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15
	return h
}
