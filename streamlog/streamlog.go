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

// Package streamlog implements the byte-oriented streaming log engine: a
// named stream is a contiguous, offset-addressed malog.ByteLog a producer
// appends length-prefixed record batches to and a consumer replays from a
// remembered offset, plus a live-tail Subscribe push for consumers that
// want to be woken on new data rather than poll.
package streamlog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/launix-de/confluo-sub000/malog"
)

var ErrArgument = fmt.Errorf("streamlog: invalid argument")

const lengthPrefixSize = 4

// EncodeBatch packs records into one length-prefixed blob: a 4-byte
// little-endian length followed by the record's bytes, repeated.
func EncodeBatch(records [][]byte) []byte {
	var total int
	for _, r := range records {
		total += lengthPrefixSize + len(r)
	}
	if total == 0 {
		return nil
	}
	buf := make([]byte, total)
	off := 0
	for _, r := range records {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r)))
		off += lengthPrefixSize
		copy(buf[off:], r)
		off += len(r)
	}
	return buf
}

// DecodeBatch parses as many whole length-prefixed records as buf holds,
// returning them along with how many bytes were consumed. A trailing
// partial record (truncated by a bucket boundary mid-batch) is left
// unconsumed for the next read to pick up.
func DecodeBatch(buf []byte) (records [][]byte, consumed int) {
	off := 0
	for off+lengthPrefixSize <= len(buf) {
		rlen := int(binary.LittleEndian.Uint32(buf[off:]))
		if off+lengthPrefixSize+rlen > len(buf) {
			break
		}
		off += lengthPrefixSize
		records = append(records, buf[off:off+rlen])
		off += rlen
	}
	return records, off
}

// Stream is one named append-only byte stream: a producer calls Write, a
// consumer calls Read with a remembered offset and advances by the
// returned nextOffset.
type Stream struct {
	bytes *malog.ByteLog

	mu   sync.Mutex
	subs []chan uint64
}

// NewStream wraps bytes as a Stream. The ByteLog's bucket size bounds the
// largest single Write batch, the same tradeoff a Log Store Shard makes for
// record payloads.
func NewStream(bytes *malog.ByteLog) *Stream {
	return &Stream{bytes: bytes}
}

// Write appends records as one length-prefixed batch and returns the
// stream's new tail offset.
func (s *Stream) Write(records [][]byte) (uint64, error) {
	data := EncodeBatch(records)
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty batch", ErrArgument)
	}
	off, err := s.bytes.ReserveSpan(uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if err := s.bytes.WriteAt(off, data); err != nil {
		return 0, err
	}
	if err := s.bytes.SyncSpan(off, uint64(len(data))); err != nil {
		return 0, err
	}
	tail := off + uint64(len(data))
	s.notify(tail)
	return tail, nil
}

// Read returns up to maxBytes worth of whole records starting at offset,
// never crossing the bucket boundary the data backing offset lives in, and
// the offset a subsequent Read should resume from. An empty result with
// nextOffset == offset means nothing new has been written yet — matching
// the original consumer's retry-until-nonempty loop.
func (s *Stream) Read(offset, maxBytes uint64) (records [][]byte, nextOffset uint64, err error) {
	tail := s.bytes.Size()
	if offset > tail {
		return nil, offset, fmt.Errorf("%w: offset %d past tail %d", ErrArgument, offset, tail)
	}
	avail := tail - offset
	if avail == 0 {
		return nil, offset, nil
	}
	bucketSize := s.bytes.BucketSize()
	inBucket := bucketSize - offset%bucketSize
	n := maxBytes
	if n > avail {
		n = avail
	}
	if n > inBucket {
		n = inBucket
	}
	buf, err := s.bytes.View(offset, n)
	if err != nil {
		return nil, offset, err
	}
	records, consumed := DecodeBatch(buf)
	return records, offset + uint64(consumed), nil
}

// Tail reports the stream's current write offset.
func (s *Stream) Tail() uint64 {
	return s.bytes.Size()
}

// Subscribe registers a channel fed the new tail offset after every Write.
// The channel is buffered and lossy under backpressure — a slow subscriber
// observes the latest tail, not every intermediate one — since a live-tail
// notification only ever needs to tell a consumer "there is more to read".
// cancel unregisters and closes the channel; callers must call it exactly
// once.
func (s *Stream) Subscribe() (ch <-chan uint64, cancel func()) {
	c := make(chan uint64, 1)
	s.mu.Lock()
	s.subs = append(s.subs, c)
	s.mu.Unlock()
	return c, func() { s.unsubscribe(c) }
}

func (s *Stream) unsubscribe(c chan uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub == c {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(c)
			return
		}
	}
}

func (s *Stream) notify(tail uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.subs {
		select {
		case c <- tail:
		default:
			// drop the stale pending value and push the latest one
			select {
			case <-c:
			default:
			}
			select {
			case c <- tail:
			default:
			}
		}
	}
}

// Registry is the stream_db equivalent: the set of named streams a
// streaming-log server process hosts, keyed by stream id.
type Registry struct {
	mu      sync.RWMutex
	streams map[uint64]*Stream
	newLog  func(id uint64) *malog.ByteLog
}

// NewRegistry builds an empty Registry. newLog constructs the backing
// ByteLog for a stream the first time AddStream sees its id — callers
// typically close over a data-path/bucket-size policy shared across all
// streams a process hosts.
func NewRegistry(newLog func(id uint64) *malog.ByteLog) *Registry {
	return &Registry{
		streams: make(map[uint64]*Stream),
		newLog:  newLog,
	}
}

// AddStream creates id's stream if it doesn't already exist, idempotently.
func (r *Registry) AddStream(id uint64) *Stream {
	r.mu.RLock()
	s, ok := r.streams[id]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[id]; ok {
		return s
	}
	s = NewStream(r.newLog(id))
	r.streams[id] = s
	return s
}

// Stream looks up an existing stream by id.
func (r *Registry) Stream(id uint64) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}
