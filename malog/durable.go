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

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapRegion is the rawRegion backing a durable bucket: an anonymous byte
// slice obtained from mmap'ing a fixed-size file MAP_SHARED.
type mmapRegion struct {
	file *os.File
	buf  []byte
}

func (r *mmapRegion) sync(offset, length int) error {
	// msync must be page-aligned; round the touched range out to full pages.
	pageSize := os.Getpagesize()
	start := (offset / pageSize) * pageSize
	end := offset + length
	if end > len(r.buf) {
		end = len(r.buf)
	}
	return unix.Msync(r.buf[start:end], unix.MS_SYNC)
}

func (r *mmapRegion) close() error {
	if r.buf != nil {
		if err := unix.Munmap(r.buf); err != nil {
			return err
		}
		r.buf = nil
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// sizeOf reports the byte width of a fixed-size slot type via unsafe.Sizeof.
// T is expected to be a plain, pointer-free value type (uint64, a small
// struct of numeric fields, ...).
func sizeOf[T any](v T) uintptr {
	return unsafe.Sizeof(v)
}

// bucketFileName encodes the bucket index into the file name so recovery
// is a plain O(directory scan).
func bucketFileName(dataPath, name string, b uint64) string {
	return fmt.Sprintf("%s/%s_%d", dataPath, name, b)
}

// mmapBucket opens (creating if absent) the file backing bucket b, sized to
// hold exactly bucketSize slots of T, and maps it MAP_SHARED.
func (l *Log[T]) mmapBucket(b uint64) (*bucket[T], error) {
	var zero T
	width := sizeOf(zero)
	byteLen := int(l.bucketSize) * int(width)

	if err := os.MkdirAll(l.dataPath, 0750); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrStorage, l.dataPath, err)
	}
	path := bucketFileName(l.dataPath, l.name, b)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	if err := f.Truncate(int64(byteLen)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: truncate %s: %v", ErrStorage, path, err)
	}
	buf, err := unix.Mmap(int(f.Fd()), 0, byteLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrStorage, path, err)
	}
	slots := unsafe.Slice((*T)(unsafe.Pointer(&buf[0])), l.bucketSize)
	return &bucket[T]{
		slots: slots,
		raw:   &mmapRegion{file: f, buf: buf},
	}, nil
}

// Recover installs every bucket file already present under dataPath into
// its directory slot. Intended to run once, before any concurrent access,
// immediately after New for a durable Log reopened across a restart.
// Recovery is O(directory scan): it lists the data directory rather than
// probing every possible bucket index.
func (l *Log[T]) Recover() error {
	if l.durability == Volatile {
		return nil
	}
	entries, err := os.ReadDir(l.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: readdir %s: %v", ErrStorage, l.dataPath, err)
	}
	prefix := l.name + "_"
	maxSlot := uint64(0)
	haveAny := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if len(n) <= len(prefix) || n[:len(prefix)] != prefix {
			continue
		}
		var b uint64
		if _, err := fmt.Sscanf(n[len(prefix):], "%d", &b); err != nil {
			continue
		}
		bk, err := l.mmapBucket(b)
		if err != nil {
			return err
		}
		if !l.dir[b].CompareAndSwap(nil, bk) {
			bk.raw.close()
		}
		haveAny = true
		top := (b + 1) * l.bucketSize
		if top > maxSlot {
			maxSlot = top
		}
	}
	if haveAny {
		for {
			cur := l.cursor.Load()
			if cur >= maxSlot {
				break
			}
			if l.cursor.CompareAndSwap(cur, maxSlot) {
				break
			}
		}
	}
	return nil
}
