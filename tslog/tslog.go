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

// Package tslog implements the timeseries engine: fixed-width (timestamp,
// value) points packed into blocks and appended through a logstore.Shard,
// with a secondary time-ordered btree index since append order is not
// required to equal timestamp order.
package tslog

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/google/btree"

	"github.com/launix-de/confluo-sub000/logstore"
)

var ErrArgument = fmt.Errorf("tslog: invalid argument")

// DataPt is one timeseries sample: a timestamp (unix nanos, or any caller
// unit) paired with a value.
type DataPt struct {
	Timestamp int64
	Value     float64
}

const dataPtSize = int(unsafe.Sizeof(DataPt{}))

// ViewBlock reinterprets a byte slice as a slice of DataPt without copying,
// the zero-copy counterpart to the reinterpret-cast the original timeseries
// service performed on its record buffers. The buffer's length must be a
// multiple of sizeof(DataPt); ViewBlock rejects it otherwise rather than
// silently truncating.
func ViewBlock(buf []byte) ([]DataPt, error) {
	if len(buf)%dataPtSize != 0 {
		return nil, fmt.Errorf("%w: block of %d bytes is not a multiple of %d", ErrArgument, len(buf), dataPtSize)
	}
	if len(buf) == 0 {
		return nil, nil
	}
	return unsafe.Slice((*DataPt)(unsafe.Pointer(&buf[0])), len(buf)/dataPtSize), nil
}

// EncodeBlock packs pts into a byte buffer suitable for Shard.Append.
func EncodeBlock(pts []DataPt) []byte {
	if len(pts) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&pts[0])), len(pts)*dataPtSize)
}

type indexEntry struct {
	timestamp int64
	recordID  uint64
	offset    int
}

func lessEntry(a, b indexEntry) bool {
	if a.timestamp != b.timestamp {
		return a.timestamp < b.timestamp
	}
	if a.recordID != b.recordID {
		return a.recordID < b.recordID
	}
	return a.offset < b.offset
}

// Series is one timeseries engine instance over a single logstore.Shard.
type Series struct {
	shard *logstore.Shard

	mu    sync.RWMutex
	index *btree.BTreeG[indexEntry]
}

// New builds a Series over shard, which the Series does not own closing.
func New(shard *logstore.Shard) *Series {
	return &Series{
		shard: shard,
		index: btree.NewG(32, lessEntry),
	}
}

func (s *Series) indexRecord(id uint64, pts []DataPt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range pts {
		s.index.ReplaceOrInsert(indexEntry{timestamp: p.Timestamp, recordID: id, offset: i})
	}
}

// InsertValues packs pts into one record and appends it, returning the
// record's id within the underlying shard.
func (s *Series) InsertValues(pts []DataPt) (uint64, error) {
	if len(pts) == 0 {
		return 0, fmt.Errorf("%w: empty point batch", ErrArgument)
	}
	id, err := s.shard.Append(EncodeBlock(pts))
	if err != nil {
		return 0, err
	}
	s.indexRecord(id, pts)
	return id, nil
}

// InsertValuesBlock appends one record per block in blocks, in a single
// underlying batch, returning one id per block.
func (s *Series) InsertValuesBlock(blocks [][]DataPt) ([]uint64, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: empty block batch", ErrArgument)
	}
	payloads := make([][]byte, len(blocks))
	for i, pts := range blocks {
		if len(pts) == 0 {
			return nil, fmt.Errorf("%w: empty block at index %d", ErrArgument, i)
		}
		payloads[i] = EncodeBlock(pts)
	}
	ids, err := s.shard.MultiAppend(payloads)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		s.indexRecord(id, blocks[i])
	}
	return ids, nil
}

func (s *Series) readPoint(e indexEntry, minSnapshot uint64) (DataPt, bool) {
	raw, err := s.shard.Get(e.recordID, minSnapshot)
	if err != nil {
		return DataPt{}, false
	}
	pts, err := ViewBlock(raw)
	if err != nil || e.offset >= len(pts) {
		return DataPt{}, false
	}
	return pts[e.offset], true
}

// GetRange returns every point with fromTS <= timestamp <= toTS whose
// record is visible below minSnapshot, ordered by timestamp.
func (s *Series) GetRange(minSnapshot uint64, fromTS, toTS int64) ([]DataPt, error) {
	if fromTS > toTS {
		return nil, fmt.Errorf("%w: fromTS %d after toTS %d", ErrArgument, fromTS, toTS)
	}
	s.mu.RLock()
	var candidates []indexEntry
	s.index.AscendRange(
		indexEntry{timestamp: fromTS},
		indexEntry{timestamp: toTS + 1},
		func(e indexEntry) bool {
			candidates = append(candidates, e)
			return true
		},
	)
	s.mu.RUnlock()

	out := make([]DataPt, 0, len(candidates))
	for _, e := range candidates {
		if p, ok := s.readPoint(e, minSnapshot); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetRangeLatest is GetRange bound to every record committed so far, rather
// than to an explicit snapshot tail.
func (s *Series) GetRangeLatest(fromTS, toTS int64) ([]DataPt, error) {
	return s.GetRange(s.shard.NumRecords(), fromTS, toTS)
}

// GetNearestValue returns the point whose timestamp is closest to ts among
// records visible below minSnapshot, preferring the earlier point on a tie.
func (s *Series) GetNearestValue(minSnapshot uint64, ts int64) (DataPt, error) {
	var before, after *indexEntry

	s.mu.RLock()
	s.index.DescendLessOrEqual(indexEntry{timestamp: ts, recordID: ^uint64(0), offset: int(^uint(0) >> 1)}, func(e indexEntry) bool {
		e := e
		before = &e
		return false
	})
	s.index.AscendGreaterOrEqual(indexEntry{timestamp: ts}, func(e indexEntry) bool {
		e := e
		after = &e
		return false
	})
	s.mu.RUnlock()

	var bestBefore, bestAfter *DataPt
	if before != nil {
		if p, ok := s.readPoint(*before, minSnapshot); ok {
			bestBefore = &p
		}
	}
	if after != nil {
		if p, ok := s.readPoint(*after, minSnapshot); ok {
			bestAfter = &p
		}
	}
	switch {
	case bestBefore == nil && bestAfter == nil:
		return DataPt{}, fmt.Errorf("%w: no points within snapshot", ErrArgument)
	case bestBefore == nil:
		return *bestAfter, nil
	case bestAfter == nil:
		return *bestBefore, nil
	default:
		if ts-bestBefore.Timestamp <= bestAfter.Timestamp-ts {
			return *bestBefore, nil
		}
		return *bestAfter, nil
	}
}

// GetNearestValueLatest is GetNearestValue bound to every record committed
// so far.
func (s *Series) GetNearestValueLatest(ts int64) (DataPt, error) {
	return s.GetNearestValue(s.shard.NumRecords(), ts)
}

// ComputeDiff returns the difference in value between the points nearest
// toTS and nearest fromTS.
func (s *Series) ComputeDiff(minSnapshot uint64, fromTS, toTS int64) (float64, error) {
	from, err := s.GetNearestValue(minSnapshot, fromTS)
	if err != nil {
		return 0, err
	}
	to, err := s.GetNearestValue(minSnapshot, toTS)
	if err != nil {
		return 0, err
	}
	return to.Value - from.Value, nil
}

// NumEntries reports the total indexed point count, not the record count.
func (s *Series) NumEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}
