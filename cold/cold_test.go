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

package cold

import (
	"bytes"
	"context"
	"testing"

	"github.com/launix-de/confluo-sub000/malog"
)

func TestLZ4CodecRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("hello world "), 100)
	var c LZ4Codec
	compressed, err := c.Compress(raw)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(raw, decompressed) {
		t.Fatalf("round trip mismatch")
	}
}

func TestXZCodecRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte("the quick brown fox "), 50)
	var c XZCodec
	compressed, err := c.Compress(raw)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(raw, decompressed) {
		t.Fatalf("round trip mismatch")
	}
}

func TestNoneCodecPassesThrough(t *testing.T) {
	raw := []byte("as-is")
	var c NoneCodec
	compressed, _ := c.Compress(raw)
	if !bytes.Equal(raw, compressed) {
		t.Fatalf("NoneCodec.Compress must not alter bytes")
	}
	decompressed, _ := c.Decompress(compressed)
	if !bytes.Equal(raw, decompressed) {
		t.Fatalf("NoneCodec.Decompress must not alter bytes")
	}
}

func TestLocalBackendWriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	backend := NewLocalBackend(dir)
	ctx := context.Background()

	if err := backend.Write(ctx, "bucket/00000000", []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := backend.Read(ctx, "bucket/00000000")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}

	if err := backend.Remove(ctx, "bucket/00000000"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := backend.Read(ctx, "bucket/00000000"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after Remove, got %v", err)
	}
}

func TestLocalBackendReadMissingKeyReturnsErrNotFound(t *testing.T) {
	backend := NewLocalBackend(t.TempDir())
	if _, err := backend.Read(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func newTestByteLog(bucketBytes, directorySize uint64) *malog.ByteLog {
	return malog.NewByteLog("payload", bucketBytes, directorySize, malog.Volatile, "")
}

func TestArchiverSealedUnarchivedExcludesActiveBucket(t *testing.T) {
	l := newTestByteLog(16, 8)
	archiver := NewArchiver("series", l, NewLocalBackend(t.TempDir()), NoneCodec{})

	// Nothing written yet: no sealed buckets.
	if got := archiver.sealedUnarchived(); len(got) != 0 {
		t.Fatalf("expected no sealed buckets, got %v", got)
	}

	// Fill bucket 0 exactly, spill into bucket 1.
	off, err := l.ReserveSpan(16)
	if err != nil {
		t.Fatalf("ReserveSpan: %v", err)
	}
	if err := l.WriteAt(off, bytes.Repeat([]byte{1}, 16)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	off2, err := l.ReserveSpan(4)
	if err != nil {
		t.Fatalf("ReserveSpan: %v", err)
	}
	if err := l.WriteAt(off2, []byte{2, 2, 2, 2}); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	sealed := archiver.sealedUnarchived()
	if len(sealed) != 1 || sealed[0] != 0 {
		t.Fatalf("expected only bucket 0 sealed, got %v", sealed)
	}
}

func TestArchiveSealedThenFetchRoundTrip(t *testing.T) {
	l := newTestByteLog(16, 8)
	backend := NewLocalBackend(t.TempDir())
	archiver := NewArchiver("series", l, backend, NoneCodec{})
	ctx := context.Background()

	off, _ := l.ReserveSpan(16)
	payload := bytes.Repeat([]byte{0xAB}, 16)
	if err := l.WriteAt(off, payload); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	// Force bucket 0 to seal by starting a write into bucket 1.
	if _, err := l.ReserveSpan(1); err != nil {
		t.Fatalf("ReserveSpan: %v", err)
	}

	n, err := archiver.ArchiveSealed(ctx)
	if err != nil {
		t.Fatalf("ArchiveSealed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 bucket archived, got %d", n)
	}
	if !archiver.IsArchived(0) {
		t.Fatalf("expected bucket 0 to be marked archived")
	}

	fetched, err := archiver.Fetch(ctx, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(fetched, payload) {
		t.Fatalf("fetched bytes do not match archived payload")
	}

	// A second call should not re-archive bucket 0.
	n, err = archiver.ArchiveSealed(ctx)
	if err != nil {
		t.Fatalf("ArchiveSealed (second call): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no buckets re-archived, got %d", n)
	}
}

func TestArchiverEvictAllowsReArchiving(t *testing.T) {
	l := newTestByteLog(16, 8)
	backend := NewLocalBackend(t.TempDir())
	archiver := NewArchiver("series", l, backend, NoneCodec{})
	ctx := context.Background()

	off, _ := l.ReserveSpan(16)
	_ = l.WriteAt(off, bytes.Repeat([]byte{0xCD}, 16))
	_, _ = l.ReserveSpan(1)

	if _, err := archiver.ArchiveSealed(ctx); err != nil {
		t.Fatalf("ArchiveSealed: %v", err)
	}
	archiver.Evict(0)
	if archiver.IsArchived(0) {
		t.Fatalf("expected bucket 0 to no longer be marked archived")
	}

	n, err := archiver.ArchiveSealed(ctx)
	if err != nil {
		t.Fatalf("ArchiveSealed after evict: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected bucket 0 to be re-archived, got %d", n)
	}
}

func TestArchiverLZ4CompressedRoundTrip(t *testing.T) {
	l := newTestByteLog(64, 4)
	backend := NewLocalBackend(t.TempDir())
	archiver := NewArchiver("series", l, backend, LZ4Codec{})
	ctx := context.Background()

	off, _ := l.ReserveSpan(64)
	payload := bytes.Repeat([]byte("compressible-data "), 4)[:64]
	if err := l.WriteAt(off, payload); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	_, _ = l.ReserveSpan(1)

	if _, err := archiver.ArchiveSealed(ctx); err != nil {
		t.Fatalf("ArchiveSealed: %v", err)
	}
	fetched, err := archiver.Fetch(ctx, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(fetched, payload) {
		t.Fatalf("fetched bytes do not match archived payload after lz4 round trip")
	}
}
