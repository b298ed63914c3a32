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

// Package logstore implements the Log Store Shard: the single-shard record
// store built on top of a malog.ByteLog (payload bytes), a malog.Log of
// atomic state words (length/flags/offset per record id) and a tailcc.Tail
// concurrency discipline.
package logstore

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/launix-de/confluo-sub000/malog"
	"github.com/launix-de/confluo-sub000/tailcc"
)

// defaultSpinDeadline bounds how long Get spins under ReadStalled CC waiting
// for a record's WRITTEN flag to appear before giving up with
// ErrNotYetVisible.
const defaultSpinDeadline = 50 * time.Millisecond

// Shard is a single log store shard: the unit of storage a Sharding & Key
// Routing layer addresses by shard id.
type Shard struct {
	bytes        *malog.ByteLog
	state        *malog.Log[atomic.Uint64]
	cc           tailcc.Tail
	spinDeadline time.Duration
	count        atomic.Uint64
}

// New builds a Shard over the given byte payload log, state word log and
// tail discipline. The three must share a lifetime — Shard does not own
// closing them.
func New(cc tailcc.Tail, bytes *malog.ByteLog, state *malog.Log[atomic.Uint64]) *Shard {
	return &Shard{
		bytes:        bytes,
		state:        state,
		cc:           cc,
		spinDeadline: defaultSpinDeadline,
	}
}

// CC exposes the shard's tail discipline directly, for callers (tests, the
// snapshot coordinator) that need to reason about in-flight writes rather
// than going through Append/Get.
func (s *Shard) CC() tailcc.Tail {
	return s.cc
}

// Bytes exposes the shard's underlying payload log, for callers (the
// archival tier) that need to read raw bucket bytes directly rather than
// going through per-record Get.
func (s *Shard) Bytes() *malog.ByteLog {
	return s.bytes
}

// WithSpinDeadline overrides the bounded spin-wait duration Get uses under
// ReadStalled CC. Intended for tests that want a short deadline.
func (s *Shard) WithSpinDeadline(d time.Duration) *Shard {
	s.spinDeadline = d
	return s
}

// Append writes payload as a new record and returns its id.
func (s *Shard) Append(payload []byte) (uint64, error) {
	if len(payload) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: payload of %d bytes exceeds %d byte limit", ErrArgument, len(payload), math.MaxUint16)
	}
	id := s.cc.BeginWrite(1)
	s.count.Add(1)
	off, err := s.bytes.ReserveSpan(uint64(len(payload)))
	if err != nil {
		return 0, translateStorageErr(err)
	}
	if err := s.bytes.WriteAt(off, payload); err != nil {
		return 0, translateStorageErr(err)
	}
	if err := s.bytes.SyncSpan(off, uint64(len(payload))); err != nil {
		return 0, translateStorageErr(err)
	}
	word, err := s.state.At(id)
	if err != nil {
		return 0, translateStorageErr(err)
	}
	word.Store(packState(uint16(len(payload)), flagWritten, off))
	s.cc.EndWrite(id, 1)
	return id, nil
}

// MultiAppend writes a contiguous batch of records — all landing in a
// single disjoint id range and, where it fits, a single byte-log
// reservation — and returns one id per payload in order.
func (s *Shard) MultiAppend(payloads [][]byte) ([]uint64, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrArgument)
	}
	var total uint64
	for _, p := range payloads {
		if len(p) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d byte limit", ErrArgument, len(p), math.MaxUint16)
		}
		total += uint64(len(p))
	}

	n := uint64(len(payloads))
	startID := s.cc.BeginWrite(n)
	s.count.Add(n)

	base, err := s.bytes.ReserveSpan(total)
	if err != nil {
		// the batch doesn't fit in a single bucket contiguously; fall back
		// to reserving each record independently so none is lost, at the
		// cost of byte-log contiguity across the batch.
		ids := make([]uint64, n)
		for i, p := range payloads {
			off, err := s.bytes.ReserveSpan(uint64(len(p)))
			if err != nil {
				return nil, translateStorageErr(err)
			}
			if err := s.writeRecord(startID+uint64(i), p, off); err != nil {
				return nil, err
			}
			ids[i] = startID + uint64(i)
		}
		s.cc.EndWrite(startID, n)
		return ids, nil
	}

	ids := make([]uint64, n)
	offset := base
	for i, p := range payloads {
		if err := s.writeRecord(startID+uint64(i), p, offset); err != nil {
			return nil, err
		}
		ids[i] = startID + uint64(i)
		offset += uint64(len(p))
	}
	if err := s.bytes.SyncSpan(base, total); err != nil {
		return nil, translateStorageErr(err)
	}
	s.cc.EndWrite(startID, n)
	return ids, nil
}

func (s *Shard) writeRecord(id uint64, payload []byte, off uint64) error {
	if err := s.bytes.WriteAt(off, payload); err != nil {
		return translateStorageErr(err)
	}
	word, err := s.state.At(id)
	if err != nil {
		return translateStorageErr(err)
	}
	word.Store(packState(uint16(len(payload)), flagWritten, off))
	return nil
}

// Get returns the payload for id, provided id falls below minSnapshot (the
// caller's snapshot boundary) and the record has neither been invalidated
// nor, under ReadStalled CC, failed to appear within the bounded spin
// deadline.
func (s *Shard) Get(id, minSnapshot uint64) ([]byte, error) {
	if id >= minSnapshot {
		return nil, ErrOutOfSnapshot
	}
	wordPtr, err := s.state.At(id)
	if err != nil {
		return nil, translateStorageErr(err)
	}
	length, flags, offset := unpackState(wordPtr.Load())

	if flags&flagWritten == 0 {
		spec, ok := s.cc.(tailcc.Speculative)
		if !ok || !spec.SpinsOnWrite() {
			return nil, ErrNotYetVisible
		}
		deadline := time.Now().Add(s.spinDeadline)
		for {
			if time.Now().After(deadline) {
				return nil, ErrNotYetVisible
			}
			length, flags, offset = unpackState(wordPtr.Load())
			if flags&flagWritten != 0 {
				break
			}
			runtime.Gosched()
		}
	}
	if flags&flagInvalid != 0 {
		return nil, ErrInvalidated
	}

	view, err := s.bytes.View(offset, uint64(length))
	if err != nil {
		return nil, translateStorageErr(err)
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// Update overwrites id's payload in place, reusing a fresh byte-log span
// (the old span is abandoned, not reclaimed — compaction is out of scope).
// Under WriteStalled CC, update serializes through the same begin/end
// publication protocol as a fresh write so readers never observe a torn
// update.
func (s *Shard) Update(id uint64, payload []byte) error {
	if len(payload) > math.MaxUint16 {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d byte limit", ErrArgument, len(payload), math.MaxUint16)
	}
	wordPtr, err := s.state.At(id)
	if err != nil {
		return translateStorageErr(err)
	}
	if _, flags, _ := unpackState(wordPtr.Load()); flags&flagInvalid != 0 {
		return ErrInvalidated
	}

	off, err := s.bytes.ReserveSpan(uint64(len(payload)))
	if err != nil {
		return translateStorageErr(err)
	}
	if err := s.bytes.WriteAt(off, payload); err != nil {
		return translateStorageErr(err)
	}
	if err := s.bytes.SyncSpan(off, uint64(len(payload))); err != nil {
		return translateStorageErr(err)
	}

	newWord := packState(uint16(len(payload)), flagWritten, off)
	if spec, ok := s.cc.(tailcc.Speculative); ok && !spec.SpinsOnWrite() {
		start := s.cc.BeginWrite(1)
		wordPtr.Store(newWord)
		s.cc.EndWrite(start, 1)
		return nil
	}
	wordPtr.Store(newWord)
	return nil
}

// Invalidate sets id's INVALID flag. Idempotent.
func (s *Shard) Invalidate(id uint64) error {
	wordPtr, err := s.state.At(id)
	if err != nil {
		return translateStorageErr(err)
	}
	for {
		old := wordPtr.Load()
		_, flags, _ := unpackState(old)
		if flags&flagInvalid != 0 {
			return nil
		}
		updated := old | (uint64(flagInvalid) << 40)
		if wordPtr.CompareAndSwap(old, updated) {
			return nil
		}
	}
}

// BeginSnapshot returns the current visible tail: every id strictly below
// it is included in this snapshot. Under WriteStalled CC each of those ids
// is fully written; under ReadStalled CC the tail follows id allocation, so
// a record below it may still be in flight and Get waits on its WRITTEN
// flag.
func (s *Shard) BeginSnapshot() uint64 {
	return s.cc.VisibleTail()
}

// EndSnapshot finalises a snapshot previously started at tail. It is a
// memory-barrier point only and waits for nothing: under WriteStalled CC
// every record below tail was already published by its writer's EndWrite
// when BeginSnapshot returned it.
func (s *Shard) EndSnapshot(tail uint64) error {
	_ = s.cc.VisibleTail()
	return nil
}

// NumRecords reports the total count of records ever begun (including any
// still in flight), mirroring the shard's own write-allocation counter.
func (s *Shard) NumRecords() uint64 {
	return s.count.Load()
}
