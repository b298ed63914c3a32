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

// Package graphlog implements the graph engine: nodes and typed,
// timestamped links stored over the shared log-store core, with a
// cross-shard traversal that fans out pipelined send_traverse/recv_traverse
// calls and merges results under a caller-supplied snapshot vector.
package graphlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jtolds/gls"
	"golang.org/x/sync/errgroup"

	"github.com/launix-de/confluo-sub000/logstore"
	"github.com/launix-de/confluo-sub000/shardkey"
)

var ErrArgument = fmt.Errorf("graphlog: invalid argument")

// Node is a typed, opaquely-keyed vertex.
type Node struct {
	Type int64  `json:"type"`
	ID   uint64 `json:"id"`
	Data []byte `json:"data,omitempty"`
}

// Link is a directed, typed, timestamped edge.
type Link struct {
	ID1      uint64 `json:"id1"`
	LinkType int64  `json:"link_type"`
	ID2      uint64 `json:"id2"`
	Time     int64  `json:"time"`
	Data     []byte `json:"data,omitempty"`
}

type linkKey struct {
	local    uint64
	linkType int64
}

// Proxy is the cross-shard traversal surface one graph store issues to a
// peer. LocalProxy satisfies it in-process; a remote peer would satisfy it
// over the rpc package's framing (not wired here — the core RPC surface
// covers the log-store service; graph traversal's RPC extension is a
// straightforward repeat of that shape once a concrete deployment needs it).
type Proxy interface {
	Traverse(ctx context.Context, id uint64, linkType int64, depth, breadth int64, snapshot []uint64, visited map[uint64]bool) ([]Link, error)
}

// LocalProxy dispatches straight into an in-process Graph.
type LocalProxy struct {
	Graph *Graph
}

func (p *LocalProxy) Traverse(ctx context.Context, id uint64, linkType int64, depth, breadth int64, snapshot []uint64, visited map[uint64]bool) ([]Link, error) {
	return p.Graph.Traverse(ctx, id, linkType, depth, breadth, snapshot, visited)
}

// snapshotCtxMgr binds the ambient "current snapshot vector" for a
// traversal's recursive fan-out, so deeply nested calls don't need the
// vector threaded through every argument list — mirrors how the teacher
// binds a goroutine-local current transaction during query execution.
var snapshotCtxMgr = gls.NewContextManager()

const snapshotCtxKey = "graphlog.snapshot"

func currentSnapshot() ([]uint64, bool) {
	v, ok := snapshotCtxMgr.GetValue(snapshotCtxKey)
	if !ok {
		return nil, false
	}
	return v.([]uint64), true
}

// Graph is one shard's node and link storage, addressable within a fixed
// N-shard routing space via shardkey.
type Graph struct {
	router  *shardkey.Router
	storeID uint64
	nodes   *logstore.Shard
	links   *logstore.Shard
	peers   []Proxy // peers[storeID] is this graph's own LocalProxy

	mu    sync.RWMutex
	index map[linkKey][]uint64 // (id1 local, link_type) -> link record local ids, append order
}

// New builds a Graph for storeID within router's N-shard space, over the
// given node/link shards. peers must have length N with peers[storeID]
// wrapping this Graph (set after construction via SetPeers, since the
// LocalProxy needs the *Graph to exist first).
func New(router *shardkey.Router, storeID uint64, nodes, links *logstore.Shard) *Graph {
	return &Graph{
		router:  router,
		storeID: storeID,
		nodes:   nodes,
		links:   links,
		index:   make(map[linkKey][]uint64),
	}
}

// SetPeers installs the full peer vector (one Proxy per shard id) used to
// fan out cross-shard traversal.
func (g *Graph) SetPeers(peers []Proxy) {
	g.peers = peers
}

func (g *Graph) requireLocal(id uint64) (uint64, error) {
	local, shard := g.router.Decode(id)
	if shard != g.storeID {
		return 0, fmt.Errorf("%w: id %d does not belong to store %d", ErrArgument, id, g.storeID)
	}
	return local, nil
}

// AddNode stores n and returns its global id.
func (g *Graph) AddNode(n Node) (uint64, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("%w: encode node: %v", ErrArgument, err)
	}
	local, err := g.nodes.Append(data)
	if err != nil {
		return 0, err
	}
	return g.router.Encode(local, g.storeID)
}

// GetNode reads back a node by (type, global id).
func (g *Graph) GetNode(nodeType int64, id uint64) (Node, error) {
	local, err := g.requireLocal(id)
	if err != nil {
		return Node{}, err
	}
	raw, err := g.nodes.Get(local, g.nodes.NumRecords())
	if err != nil {
		return Node{}, err
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return Node{}, fmt.Errorf("%w: decode node: %v", ErrArgument, err)
	}
	if n.Type != nodeType {
		return Node{}, fmt.Errorf("%w: node %d has type %d, not %d", ErrArgument, id, n.Type, nodeType)
	}
	return n, nil
}

// UpdateNode overwrites a node's payload in place.
func (g *Graph) UpdateNode(n Node) (bool, error) {
	local, err := g.requireLocal(n.ID)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("%w: encode node: %v", ErrArgument, err)
	}
	if err := g.nodes.Update(local, data); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteNode invalidates a node by (type, global id).
func (g *Graph) DeleteNode(nodeType int64, id uint64) (bool, error) {
	local, err := g.requireLocal(id)
	if err != nil {
		return false, err
	}
	if err := g.nodes.Invalidate(local); err != nil {
		return false, err
	}
	return true, nil
}

// AddLink stores l, indexing it under (id1, link_type) for adjacency
// lookups, and returns a global link record id.
//
// The original wire contract assigns its result field twice — once to the
// forward link id, once (observably, since it overwrites the first) to a
// value derived from id2. This preserves that: when id2 belongs to this
// store the returned id is formed from id2's local component; otherwise
// the forward record's id, since no second assignment was ever computed.
func (g *Graph) AddLink(l Link) (uint64, error) {
	id1Local, err := g.requireLocal(l.ID1)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(l)
	if err != nil {
		return 0, fmt.Errorf("%w: encode link: %v", ErrArgument, err)
	}
	recID, err := g.links.Append(data)
	if err != nil {
		return 0, err
	}

	key := linkKey{id1Local, l.LinkType}
	g.mu.Lock()
	g.index[key] = append(g.index[key], recID)
	g.mu.Unlock()

	if id2Local, id2Shard := g.router.Decode(l.ID2); id2Shard == g.storeID {
		return g.router.Encode(id2Local, g.storeID)
	}
	return g.router.Encode(recID, g.storeID)
}

// UpdateLink replaces the current record for (id1, link_type, id2) with a
// freshly appended one, invalidating the old record.
func (g *Graph) UpdateLink(l Link) (bool, error) {
	id1Local, err := g.requireLocal(l.ID1)
	if err != nil {
		return false, err
	}
	key := linkKey{id1Local, l.LinkType}

	g.mu.Lock()
	ids := append([]uint64(nil), g.index[key]...)
	g.mu.Unlock()

	found := false
	for _, recID := range ids {
		cur, err := g.links.Get(recID, g.links.NumRecords())
		if err != nil {
			continue
		}
		var existing Link
		if err := json.Unmarshal(cur, &existing); err != nil {
			continue
		}
		if existing.ID2 == l.ID2 {
			g.links.Invalidate(recID)
			found = true
		}
	}
	if !found {
		return false, fmt.Errorf("%w: no existing link (%d,%d,%d)", ErrArgument, l.ID1, l.LinkType, l.ID2)
	}

	data, err := json.Marshal(l)
	if err != nil {
		return false, fmt.Errorf("%w: encode link: %v", ErrArgument, err)
	}
	recID, err := g.links.Append(data)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	g.index[key] = append(g.index[key], recID)
	g.mu.Unlock()
	return true, nil
}

// DeleteLink invalidates every record for (id1, link_type, id2).
func (g *Graph) DeleteLink(id1 uint64, linkType int64, id2 uint64) (bool, error) {
	id1Local, err := g.requireLocal(id1)
	if err != nil {
		return false, err
	}
	key := linkKey{id1Local, linkType}

	g.mu.RLock()
	ids := append([]uint64(nil), g.index[key]...)
	g.mu.RUnlock()

	deleted := false
	for _, recID := range ids {
		cur, err := g.links.Get(recID, g.links.NumRecords())
		if err != nil {
			continue
		}
		var existing Link
		if err := json.Unmarshal(cur, &existing); err != nil {
			continue
		}
		if existing.ID2 == id2 {
			if err := g.links.Invalidate(recID); err == nil {
				deleted = true
			}
		}
	}
	return deleted, nil
}

// GetLink returns the current record for (id1, link_type, id2).
func (g *Graph) GetLink(id1 uint64, linkType int64, id2 uint64) (Link, error) {
	links, err := g.GetLinkList(id1, linkType)
	if err != nil {
		return Link{}, err
	}
	for _, l := range links {
		if l.ID2 == id2 {
			return l, nil
		}
	}
	return Link{}, fmt.Errorf("%w: no link (%d,%d,%d)", ErrArgument, id1, linkType, id2)
}

// MultigetLink returns the current records for (id1, link_type, id2) across
// every id2 in id2s.
func (g *Graph) MultigetLink(id1 uint64, linkType int64, id2s []uint64) ([]Link, error) {
	all, err := g.GetLinkList(id1, linkType)
	if err != nil {
		return nil, err
	}
	want := make(map[uint64]bool, len(id2s))
	for _, id2 := range id2s {
		want[id2] = true
	}
	var out []Link
	for _, l := range all {
		if want[l.ID2] {
			out = append(out, l)
		}
	}
	return out, nil
}

// GetLinkList returns every live (non-invalidated) link for (id1, link_type).
func (g *Graph) GetLinkList(id1 uint64, linkType int64) ([]Link, error) {
	return g.getLinksUpTo(id1, linkType, g.links.NumRecords())
}

// GetLinkListRange applies a timestamp window and offset/limit pagination
// on top of GetLinkList, newest first (matching the original's insertion
// order semantics for a per-key adjacency list).
func (g *Graph) GetLinkListRange(id1 uint64, linkType, minTS, maxTS, off, limit int64) ([]Link, error) {
	all, err := g.GetLinkList(id1, linkType)
	if err != nil {
		return nil, err
	}
	var filtered []Link
	for i := len(all) - 1; i >= 0; i-- {
		l := all[i]
		if l.Time >= minTS && l.Time <= maxTS {
			filtered = append(filtered, l)
		}
	}
	if off < 0 || off > int64(len(filtered)) {
		return nil, nil
	}
	end := off + limit
	if limit < 0 || end > int64(len(filtered)) {
		end = int64(len(filtered))
	}
	return filtered[off:end], nil
}

// CountLinks reports the number of live links for (id1, link_type).
func (g *Graph) CountLinks(id1 uint64, linkType int64) (int64, error) {
	links, err := g.GetLinkList(id1, linkType)
	if err != nil {
		return 0, err
	}
	return int64(len(links)), nil
}

// getLinksUpTo resolves the live links for (id1, link_type) visible at
// tail — used both for plain reads (tail = NumRecords()) and for
// traversal, which must only see ids below its snapshot cut.
func (g *Graph) getLinksUpTo(id1 uint64, linkType int64, tail uint64) ([]Link, error) {
	id1Local, err := g.requireLocal(id1)
	if err != nil {
		return nil, err
	}
	key := linkKey{id1Local, linkType}

	g.mu.RLock()
	ids := append([]uint64(nil), g.index[key]...)
	g.mu.RUnlock()

	var out []Link
	for _, recID := range ids {
		if recID >= tail {
			continue
		}
		raw, err := g.links.Get(recID, tail)
		if err != nil {
			continue // invalidated, not yet visible, or superseded by an update
		}
		var l Link
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// BeginSnapshot/EndSnapshot delegate to the link shard's CC, the snapshot
// source of truth for this store's slice of a global snapshot vector.
func (g *Graph) BeginSnapshot() uint64        { return g.links.BeginSnapshot() }
func (g *Graph) EndSnapshot(tail uint64) error { return g.links.EndSnapshot(tail) }

// Traverse walks the graph from id, following linkType edges, down to
// depth levels, visiting at most breadth neighbours per node, bound to
// snapshot (one visible-tail cut per shard). Each neighbour's subtree is
// walked concurrently, so the order of the returned links is not defined.
// visited prevents cycles; callers should seed it with {id: true}.
func (g *Graph) Traverse(ctx context.Context, id uint64, linkType int64, depth, breadth int64, snapshot []uint64, visited map[uint64]bool) ([]Link, error) {
	var result []Link
	var err error
	snapshotCtxMgr.SetValues(gls.Values{snapshotCtxKey: snapshot}, func() {
		result, err = g.traverse(ctx, id, linkType, depth, breadth, visited)
	})
	return result, err
}

func (g *Graph) traverse(ctx context.Context, id uint64, linkType int64, depth, breadth int64, visited map[uint64]bool) ([]Link, error) {
	if depth <= 0 {
		return nil, nil
	}
	snapshot, ok := currentSnapshot()
	if !ok {
		return nil, fmt.Errorf("graphlog: traverse called without an active snapshot context")
	}

	if _, err := g.requireLocal(id); err != nil {
		return nil, err
	}
	tail := snapshot[g.storeID]
	links, err := g.getLinksUpTo(id, linkType, tail)
	if err != nil {
		return nil, err
	}
	if int64(len(links)) > breadth {
		links = links[:breadth]
	}

	result := make([]Link, 0, len(links))
	var mu sync.Mutex
	g2, gctx := errgroup.WithContext(ctx)
	for _, l := range links {
		l := l
		if l.ID2 == l.ID1 || visited[l.ID2] {
			continue
		}
		mu.Lock()
		result = append(result, l)
		mu.Unlock()

		nextVisited := make(map[uint64]bool, len(visited)+1)
		for k, v := range visited {
			nextVisited[k] = v
		}
		nextVisited[l.ID2] = true
		peerShard := g.router.ShardFor(l.ID2)
		peer := g.peers[peerShard]
		g2.Go(func() error {
			sub, err := peer.Traverse(gctx, l.ID2, linkType, depth-1, breadth, snapshot, nextVisited)
			if err != nil {
				return err
			}
			mu.Lock()
			result = append(result, sub...)
			mu.Unlock()
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
