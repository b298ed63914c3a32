package graphlog

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/launix-de/confluo-sub000/logstore"
	"github.com/launix-de/confluo-sub000/malog"
	"github.com/launix-de/confluo-sub000/shardkey"
	"github.com/launix-de/confluo-sub000/tailcc"
)

func newTestShard() *logstore.Shard {
	bytes := malog.NewByteLog("payload", 1024, 256, malog.Volatile, "")
	state := malog.New[atomic.Uint64]("state", 32, 256, malog.Volatile, "")
	return logstore.New(tailcc.New("write-stalled"), bytes, state)
}

func newSingleShardGraph(t *testing.T) *Graph {
	t.Helper()
	router, err := shardkey.New(1)
	if err != nil {
		t.Fatal(err)
	}
	g := New(router, 0, newTestShard(), newTestShard())
	g.SetPeers([]Proxy{&LocalProxy{Graph: g}})
	return g
}

func TestAddNodeThenGetNodeRoundTrip(t *testing.T) {
	g := newSingleShardGraph(t)
	id, err := g.AddNode(Node{Type: 1, Data: []byte("alice")})
	if err != nil {
		t.Fatalf("add_node: %v", err)
	}
	n, err := g.GetNode(1, id)
	if err != nil {
		t.Fatalf("get_node: %v", err)
	}
	if string(n.Data) != "alice" {
		t.Fatalf("expected alice, got %q", n.Data)
	}
}

func TestGetNodeRejectsWrongType(t *testing.T) {
	g := newSingleShardGraph(t)
	id, _ := g.AddNode(Node{Type: 1, Data: []byte("alice")})
	if _, err := g.GetNode(2, id); err == nil {
		t.Fatal("expected an error for mismatched node type")
	}
}

func TestDeleteNodeThenGetNodeFails(t *testing.T) {
	g := newSingleShardGraph(t)
	id, _ := g.AddNode(Node{Type: 1, Data: []byte("alice")})
	if _, err := g.DeleteNode(1, id); err != nil {
		t.Fatalf("delete_node: %v", err)
	}
	if _, err := g.GetNode(1, id); err == nil {
		t.Fatal("expected get_node to fail after delete_node")
	}
}

func TestAddLinkThenGetLinkListRoundTrip(t *testing.T) {
	g := newSingleShardGraph(t)
	id1, _ := g.AddNode(Node{Type: 1})
	id2, _ := g.AddNode(Node{Type: 1})

	if _, err := g.AddLink(Link{ID1: id1, LinkType: 7, ID2: id2, Time: 1}); err != nil {
		t.Fatalf("add_link: %v", err)
	}

	links, err := g.GetLinkList(id1, 7)
	if err != nil {
		t.Fatalf("get_link_list: %v", err)
	}
	if len(links) != 1 || links[0].ID2 != id2 {
		t.Fatalf("expected a single link to %d, got %v", id2, links)
	}

	link, err := g.GetLink(id1, 7, id2)
	if err != nil {
		t.Fatalf("get_link: %v", err)
	}
	if link.Time != 1 {
		t.Fatalf("expected time 1, got %d", link.Time)
	}

	count, err := g.CountLinks(id1, 7)
	if err != nil {
		t.Fatalf("count_links: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestDeleteLinkRemovesItFromLinkList(t *testing.T) {
	g := newSingleShardGraph(t)
	id1, _ := g.AddNode(Node{Type: 1})
	id2, _ := g.AddNode(Node{Type: 1})
	g.AddLink(Link{ID1: id1, LinkType: 7, ID2: id2, Time: 1})

	deleted, err := g.DeleteLink(id1, 7, id2)
	if err != nil || !deleted {
		t.Fatalf("delete_link: deleted=%v err=%v", deleted, err)
	}
	links, err := g.GetLinkList(id1, 7)
	if err != nil {
		t.Fatalf("get_link_list: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("expected no live links after delete, got %v", links)
	}
}

func TestUpdateLinkReplacesData(t *testing.T) {
	g := newSingleShardGraph(t)
	id1, _ := g.AddNode(Node{Type: 1})
	id2, _ := g.AddNode(Node{Type: 1})
	g.AddLink(Link{ID1: id1, LinkType: 7, ID2: id2, Time: 1, Data: []byte("v1")})

	ok, err := g.UpdateLink(Link{ID1: id1, LinkType: 7, ID2: id2, Time: 2, Data: []byte("v2")})
	if err != nil || !ok {
		t.Fatalf("update_link: ok=%v err=%v", ok, err)
	}
	link, err := g.GetLink(id1, 7, id2)
	if err != nil {
		t.Fatalf("get_link: %v", err)
	}
	if string(link.Data) != "v2" || link.Time != 2 {
		t.Fatalf("expected updated link, got %+v", link)
	}
}

func TestGetLinkListRangeFiltersByTimeAndPages(t *testing.T) {
	g := newSingleShardGraph(t)
	id1, _ := g.AddNode(Node{Type: 1})
	for i := int64(0); i < 5; i++ {
		id2, _ := g.AddNode(Node{Type: 1})
		g.AddLink(Link{ID1: id1, LinkType: 9, ID2: id2, Time: i})
	}
	links, err := g.GetLinkListRange(id1, 9, 1, 3, 0, 10)
	if err != nil {
		t.Fatalf("get_link_list_range: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("expected 3 links in range [1,3], got %d", len(links))
	}
	for _, l := range links {
		if l.Time < 1 || l.Time > 3 {
			t.Fatalf("link time %d out of requested range", l.Time)
		}
	}
}

// TestTraverseSingleShard reproduces the worked traversal scenario: a chain
// 1->2->3->4 created before a snapshot is cut, and a later 4->5 link created
// after — traverse bound to the snapshot must return exactly the three
// pre-snapshot links.
func TestTraverseSingleShard(t *testing.T) {
	g := newSingleShardGraph(t)

	var ids [5]uint64
	for i := range ids {
		id, err := g.AddNode(Node{Type: 1})
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}

	link := func(a, b int) {
		if _, err := g.AddLink(Link{ID1: ids[a], LinkType: 0, ID2: ids[b]}); err != nil {
			t.Fatal(err)
		}
	}
	link(0, 1)
	link(1, 2)
	link(2, 3)

	tail := g.BeginSnapshot()
	snapshot := []uint64{tail}
	if err := g.EndSnapshot(tail); err != nil {
		t.Fatal(err)
	}

	link(3, 4) // created after the cut; must not appear

	visited := map[uint64]bool{ids[0]: true}
	links, err := g.Traverse(context.Background(), ids[0], 0, 5, 64, snapshot, visited)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("expected exactly 3 links within the snapshot, got %d: %+v", len(links), links)
	}
}

func TestTraverseRespectsDepthLimit(t *testing.T) {
	g := newSingleShardGraph(t)
	var ids [4]uint64
	for i := range ids {
		ids[i], _ = g.AddNode(Node{Type: 1})
	}
	g.AddLink(Link{ID1: ids[0], LinkType: 0, ID2: ids[1]})
	g.AddLink(Link{ID1: ids[1], LinkType: 0, ID2: ids[2]})
	g.AddLink(Link{ID1: ids[2], LinkType: 0, ID2: ids[3]})

	tail := g.BeginSnapshot()
	snapshot := []uint64{tail}

	links, err := g.Traverse(context.Background(), ids[0], 0, 1, 64, snapshot, map[uint64]bool{ids[0]: true})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected depth-1 traversal to stop after one hop, got %d links", len(links))
	}
}

func TestTraverseSkipsSelfLoops(t *testing.T) {
	g := newSingleShardGraph(t)
	id, _ := g.AddNode(Node{Type: 1})
	g.AddLink(Link{ID1: id, LinkType: 0, ID2: id})

	tail := g.BeginSnapshot()
	snapshot := []uint64{tail}

	links, err := g.Traverse(context.Background(), id, 0, 5, 64, snapshot, map[uint64]bool{id: true})
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(links) != 0 {
		t.Fatalf("expected self-loop to be excluded, got %v", links)
	}
}
