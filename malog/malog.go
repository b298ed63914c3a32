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

// Package malog implements the Monotonic Append Log: a lock-free,
// index-addressable container of fixed-size slots with deterministic
// slot->address mapping, optional memory-mapped durability, and crash-safe
// growth.
//
// A Log is conceptually an infinite ordered sequence of slots of type T,
// physically a two-level directory of fixed-size buckets whose pointers
// live in a fixed-size directory array. Once a slot is populated its
// physical address never changes, and bucket allocation is idempotent
// under concurrent access: the first writer to install a bucket wins, and
// losers discard their candidate.
package malog

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Durability selects how a Log's buckets are backed.
type Durability int

const (
	// Volatile buckets are plain heap allocations; no recovery.
	Volatile Durability = iota
	// DurableRelaxed buckets are mmap'd files; writes reach the page cache
	// but are never explicitly synced on the hot path.
	DurableRelaxed
	// DurableStrict is DurableRelaxed plus an msync of the touched page
	// before the call that produced the write returns.
	DurableStrict
)

var (
	// ErrCapacityExceeded is returned when a slot index falls outside the
	// directory's addressable range (B*D slots). Fatal for the Log.
	ErrCapacityExceeded = errors.New("malog: capacity exceeded")
	// ErrStorage is returned when a bucket's backing storage (mmap, file)
	// could not be created. Fatal for the containing shard; not retried.
	ErrStorage = errors.New("malog: storage error")
	// ErrArgumentTooLarge is returned by ByteLog when a single record would
	// never fit within one bucket regardless of alignment.
	ErrArgumentTooLarge = errors.New("malog: record larger than bucket size")
)

// bucket bundles a typed slot view with whatever backing storage produced
// it, so Close/Sync can reach the raw mmap'd region when present.
type bucket[T any] struct {
	slots []T
	raw   rawRegion // nil for Volatile buckets
}

// rawRegion is satisfied by the mmap-backed bucket storage; kept as an
// interface so the volatile path never touches golang.org/x/sys/unix.
type rawRegion interface {
	sync(offset, length int) error
	close() error
}

// Log is a monotonic append log over fixed-width slots of type T. T must be
// a fixed-size, pointer-free type (e.g. uint64 or a small struct of plain
// fields) so that a durable bucket's mmap'd bytes can be reinterpreted as
// []T directly.
type Log[T any] struct {
	name       string
	dataPath   string
	bucketSize uint64 // slots per bucket (B)
	dirSize    uint64 // directory length (D)
	durability Durability

	dir    []atomic.Pointer[bucket[T]]
	cursor atomic.Uint64 // logical size / reservation cursor
}

// New creates a Log with the given bucket size (B) and directory size (D),
// giving a maximum of B*D addressable slots. dataPath is only consulted for
// durable variants.
func New[T any](name string, bucketSize, directorySize uint64, durability Durability, dataPath string) *Log[T] {
	if bucketSize == 0 {
		bucketSize = 1 << 16
	}
	if directorySize == 0 {
		directorySize = 1 << 14
	}
	return &Log[T]{
		name:       name,
		dataPath:   dataPath,
		bucketSize: bucketSize,
		dirSize:    directorySize,
		durability: durability,
		dir:        make([]atomic.Pointer[bucket[T]], directorySize),
	}
}

// Size returns the current logical length: the number of slots ever
// reserved. It never shrinks.
func (l *Log[T]) Size() uint64 {
	return l.cursor.Load()
}

// Reserve atomically advances the cursor by n and returns the prior value,
// the base index of the reserved range [base, base+n).
func (l *Log[T]) Reserve(n uint64) uint64 {
	return l.cursor.Add(n) - n
}

// Append reserves a single slot and writes v into it, returning its index.
func (l *Log[T]) Append(v T) (uint64, error) {
	i := l.Reserve(1)
	p, err := l.At(i)
	if err != nil {
		return 0, err
	}
	*p = v
	if err := l.Sync(i); err != nil {
		return 0, err
	}
	return i, nil
}

// At returns the stable address of slot i, lazily allocating the
// containing bucket. Concurrent At(i) and At(j) — same or different
// buckets — are safe without locks.
func (l *Log[T]) At(i uint64) (*T, error) {
	b := i / l.bucketSize
	o := i % l.bucketSize
	if b >= l.dirSize {
		return nil, fmt.Errorf("%w: slot %d (bucket %d >= %d)", ErrCapacityExceeded, i, b, l.dirSize)
	}
	bk, err := l.bucketAt(b)
	if err != nil {
		return nil, err
	}
	return &bk.slots[o], nil
}

// bucketAt resolves directory slot b to its bucket, installing a freshly
// allocated bucket on first touch. Allocation is lock-free: the first
// writer to CAS its candidate into the directory wins; losers free their
// candidate and use the winner's.
func (l *Log[T]) bucketAt(b uint64) (*bucket[T], error) {
	if existing := l.dir[b].Load(); existing != nil {
		return existing, nil
	}
	candidate, err := l.allocateBucket(b)
	if err != nil {
		return nil, err
	}
	if l.dir[b].CompareAndSwap(nil, candidate) {
		return candidate, nil
	}
	// lost the race: discard our candidate, use the installed one
	if candidate.raw != nil {
		candidate.raw.close()
	}
	return l.dir[b].Load(), nil
}

func (l *Log[T]) allocateBucket(b uint64) (*bucket[T], error) {
	if l.durability == Volatile {
		return &bucket[T]{slots: make([]T, l.bucketSize)}, nil
	}
	return l.mmapBucket(b)
}

// Sync flushes the page containing slot i to disk. A no-op for Volatile and
// DurableRelaxed logs; DurableRelaxed relies on the OS page cache alone and
// a background msync is the caller's responsibility if ever needed.
func (l *Log[T]) Sync(i uint64) error {
	if l.durability != DurableStrict {
		return nil
	}
	b := i / l.bucketSize
	o := i % l.bucketSize
	bk := l.dir[b].Load()
	if bk == nil || bk.raw == nil {
		return nil
	}
	var zero T
	width := int(sizeOf(zero))
	return bk.raw.sync(int(o)*width, width)
}

// Close releases every mapped bucket. Safe to call multiple times.
func (l *Log[T]) Close() error {
	var firstErr error
	for i := range l.dir {
		bk := l.dir[i].Swap(nil)
		if bk != nil && bk.raw != nil {
			if err := bk.raw.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Name reports the base name used for this log's bucket files.
func (l *Log[T]) Name() string {
	return l.name
}

// BucketSize reports the configured slots-per-bucket (B).
func (l *Log[T]) BucketSize() uint64 {
	return l.bucketSize
}
