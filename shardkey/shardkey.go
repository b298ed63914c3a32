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

// Package shardkey implements Sharding & Key Routing: the stateless mapping
// between a record's global id and the (shard id, local id) pair that
// addresses it within a single Log Store Shard.
//
// A global id is never stored; it is computed on demand from a shard's
// local id and the shard's position among N shards: global = local*N +
// shard. Decoding is the inverse. Because N is fixed for the life of a
// routing table, both directions are O(1) and allocation-free.
package shardkey

import "fmt"

// Router assigns records to one of N shards by global id arithmetic.
type Router struct {
	n uint64
}

// New returns a Router over n shards. n must be at least 1.
func New(n uint64) (*Router, error) {
	if n == 0 {
		return nil, fmt.Errorf("shardkey: shard count must be at least 1")
	}
	return &Router{n: n}, nil
}

// ShardCount reports N.
func (r *Router) ShardCount() uint64 {
	return r.n
}

// Encode maps a shard's local id to the global id space: global = local*N + shard.
func (r *Router) Encode(local, shard uint64) (uint64, error) {
	if shard >= r.n {
		return 0, fmt.Errorf("shardkey: shard %d out of range [0,%d)", shard, r.n)
	}
	return local*r.n + shard, nil
}

// Decode splits a global id back into (local id, shard id).
func (r *Router) Decode(global uint64) (local, shard uint64) {
	return global / r.n, global % r.n
}

// ShardFor reports which shard owns global without computing the local id.
func (r *Router) ShardFor(global uint64) uint64 {
	return global % r.n
}
