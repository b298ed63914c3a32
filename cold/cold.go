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

// Package cold implements archival storage for sealed MAL buckets: once a
// bucket falls behind a log's write cursor it never changes again, so it
// can be compressed and pushed to a cheaper tier (local disk, S3, Ceph)
// and evicted from memory, with Fetch bringing it back on demand.
package cold

import (
	"context"
	"fmt"
	"sync"
)

var ErrNotFound = fmt.Errorf("cold: object not found")

// Backend is the object-storage surface an Archiver pushes sealed buckets
// to and reads them back from, keyed by an opaque name.
type Backend interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// BucketSource is the slice of malog.ByteLog an Archiver needs: enough to
// discover which buckets are sealed and read their raw bytes. malog.ByteLog
// satisfies this directly.
type BucketSource interface {
	BucketSize() uint64
	Size() uint64
	View(offset, length uint64) ([]byte, error)
}

// Archiver tracks which buckets of one BucketSource have been pushed to a
// Backend, and drives archiving newly-sealed ones.
type Archiver struct {
	name    string
	src     BucketSource
	backend Backend
	codec   Codec

	mu       sync.Mutex
	archived map[uint64]bool
}

// NewArchiver builds an Archiver for src, storing compressed buckets under
// name in backend via codec.
func NewArchiver(name string, src BucketSource, backend Backend, codec Codec) *Archiver {
	return &Archiver{
		name:     name,
		src:      src,
		backend:  backend,
		codec:    codec,
		archived: make(map[uint64]bool),
	}
}

func (a *Archiver) key(bucket uint64) string {
	return fmt.Sprintf("%s/%08d%s", a.name, bucket, a.codec.Extension())
}

// sealedUnarchived returns every bucket index strictly behind the log's
// active (still-being-written) bucket that hasn't been archived yet. The
// active bucket itself is never included, since it may still receive
// writes.
func (a *Archiver) sealedUnarchived() []uint64 {
	size := a.src.Size()
	if size == 0 {
		return nil
	}
	bucketSize := a.src.BucketSize()
	activeBucket := size / bucketSize

	a.mu.Lock()
	defer a.mu.Unlock()
	var out []uint64
	for b := uint64(0); b < activeBucket; b++ {
		if !a.archived[b] {
			out = append(out, b)
		}
	}
	return out
}

// ArchiveSealed compresses and writes every newly-sealed bucket to the
// backend, returning how many were archived.
func (a *Archiver) ArchiveSealed(ctx context.Context) (int, error) {
	pending := a.sealedUnarchived()
	bucketSize := a.src.BucketSize()

	for _, b := range pending {
		raw, err := a.src.View(b*bucketSize, bucketSize)
		if err != nil {
			return 0, fmt.Errorf("cold: view bucket %d: %w", b, err)
		}
		data, err := a.codec.Compress(raw)
		if err != nil {
			return 0, fmt.Errorf("cold: compress bucket %d: %w", b, err)
		}
		if err := a.backend.Write(ctx, a.key(b), data); err != nil {
			return 0, fmt.Errorf("cold: write bucket %d: %w", b, err)
		}
		a.mu.Lock()
		a.archived[b] = true
		a.mu.Unlock()
	}
	return len(pending), nil
}

// IsArchived reports whether bucket b has been pushed to the backend.
func (a *Archiver) IsArchived(bucket uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.archived[bucket]
}

// Fetch retrieves and decompresses bucket b from the backend.
func (a *Archiver) Fetch(ctx context.Context, bucket uint64) ([]byte, error) {
	data, err := a.backend.Read(ctx, a.key(bucket))
	if err != nil {
		return nil, err
	}
	return a.codec.Decompress(data)
}

// Evict drops bucket b's archived marker, so a subsequent ArchiveSealed
// call re-pushes it (e.g. after a backend-side deletion).
func (a *Archiver) Evict(bucket uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.archived, bucket)
}
