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

// Call is the handle a SendX method hands back: a future resolved exactly
// once, by whoever completes the pipelined request. Recv is the recv_X half
// of the send_X/recv_X pairing — it blocks until the result lands.
type Call[T any] struct {
	ch chan callResult[T]
}

type callResult[T any] struct {
	val T
	err error
}

func newCall[T any]() *Call[T] {
	return &Call[T]{ch: make(chan callResult[T], 1)}
}

func (c *Call[T]) complete(v T, err error) {
	c.ch <- callResult[T]{val: v, err: err}
}

// Recv blocks until the call's result is available.
func (c *Call[T]) Recv() (T, error) {
	r := <-c.ch
	return r.val, r.err
}

// NewPendingCall returns a Call together with the function that resolves
// it exactly once. Intended for Proxy implementations (e.g. a remote,
// transport-backed proxy) whose SendX methods must hand back a Call before
// the result has actually arrived.
func NewPendingCall[T any]() (*Call[T], func(T, error)) {
	c := newCall[T]()
	return c, c.complete
}

// Proxy is the pipelined request surface a Sharding & Key Routing layer or
// a Snapshot Coordinator issues shard operations through. send_X returns
// immediately with a Call handle; recv_X is simply Call.Recv. A LocalProxy
// satisfies it by running the Shard inline; a remote proxy (package rpc)
// satisfies it over a framed connection, preserving reply order per
// connection.
type Proxy interface {
	SendAppend(payload []byte) *Call[uint64]
	SendMultiAppend(payloads [][]byte) *Call[[]uint64]
	SendGet(id, minSnapshot uint64) *Call[[]byte]
	SendUpdate(id uint64, payload []byte) *Call[struct{}]
	SendInvalidate(id uint64) *Call[struct{}]
	SendBeginSnapshot() *Call[uint64]
	SendEndSnapshot(tail uint64) *Call[struct{}]
	SendNumRecords() *Call[uint64]
}
