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
package malog

import "fmt"

// ByteLog is a Log[byte] specialised for variable-length payload storage.
// Unlike the fixed-width generic Log, a reservation never straddles two
// buckets: ReserveSpan rounds the cursor up to the next bucket boundary
// first when a request would otherwise cross one, trading a little
// fragmentation for the guarantee that every record lives in one
// contiguous backing array.
type ByteLog struct {
	*Log[byte]
}

// NewByteLog creates a ByteLog with bucketBytes bytes per bucket and
// directorySize buckets, giving a maximum of bucketBytes*directorySize
// addressable bytes.
func NewByteLog(name string, bucketBytes, directorySize uint64, durability Durability, dataPath string) *ByteLog {
	return &ByteLog{New[byte](name, bucketBytes, directorySize, durability, dataPath)}
}

// ReserveSpan reserves n contiguous bytes, rounding up to the start of the
// next bucket if n would otherwise straddle a bucket boundary.
func (l *ByteLog) ReserveSpan(n uint64) (uint64, error) {
	for {
		cur := l.cursor.Load()
		bucketStart := (cur / l.bucketSize) * l.bucketSize
		bucketEnd := bucketStart + l.bucketSize
		base := cur
		if n > l.bucketSize {
			return 0, fmt.Errorf("%w: record of %d bytes exceeds bucket size %d", ErrArgumentTooLarge, n, l.bucketSize)
		}
		if cur+n > bucketEnd {
			base = bucketEnd
		}
		newCur := base + n
		if base/l.bucketSize >= l.dirSize {
			return 0, ErrCapacityExceeded
		}
		if l.cursor.CompareAndSwap(cur, newCur) {
			return base, nil
		}
	}
}

// View returns a slice over [offset, offset+length) of the bucket backing
// offset. length must not cross the bucket boundary — guaranteed for any
// offset returned by ReserveSpan together with the length passed to it.
func (l *ByteLog) View(offset, length uint64) ([]byte, error) {
	b := offset / l.bucketSize
	o := offset % l.bucketSize
	if o+length > l.bucketSize {
		return nil, fmt.Errorf("%w: record at %d/%d spans a bucket boundary", ErrStorage, offset, length)
	}
	bk, err := l.bucketAt(b)
	if err != nil {
		return nil, err
	}
	return bk.slots[o : o+length], nil
}

// WriteAt copies payload into the span starting at offset.
func (l *ByteLog) WriteAt(offset uint64, payload []byte) error {
	view, err := l.View(offset, uint64(len(payload)))
	if err != nil {
		return err
	}
	copy(view, payload)
	return nil
}

// SyncSpan flushes the pages covering [offset, offset+length) to disk. A
// no-op unless the log is DurableStrict.
func (l *ByteLog) SyncSpan(offset, length uint64) error {
	if l.durability != DurableStrict {
		return nil
	}
	b := offset / l.bucketSize
	o := offset % l.bucketSize
	bk := l.dir[b].Load()
	if bk == nil || bk.raw == nil {
		return nil
	}
	return bk.raw.sync(int(o), int(length))
}
