/*
Copyright (C) 2023-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package logstore

// Per-record state word flags, packed into the high byte of the 64-bit
// state word alongside a 16-bit length and a 40-bit byte offset:
//
//	bits 63..48  length  (uint16)
//	bits 47..40  flags   (uint8)
//	bits 39..0   offset  (uint40, into the shard's byte log)
const (
	flagWritten uint8 = 1 << 0
	flagInvalid uint8 = 1 << 1

	offsetMask = (uint64(1) << 40) - 1
)

func packState(length uint16, flags uint8, offset uint64) uint64 {
	return uint64(length)<<48 | uint64(flags)<<40 | (offset & offsetMask)
}

func unpackState(word uint64) (length uint16, flags uint8, offset uint64) {
	length = uint16(word >> 48)
	flags = uint8((word >> 40) & 0xFF)
	offset = word & offsetMask
	return
}
