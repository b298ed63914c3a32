package snapshot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/launix-de/confluo-sub000/logstore"
	"github.com/launix-de/confluo-sub000/malog"
	"github.com/launix-de/confluo-sub000/tailcc"
)

func newTestShard(kind string) *logstore.Shard {
	bytes := malog.NewByteLog("payload", 256, 64, malog.Volatile, "")
	state := malog.New[atomic.Uint64]("state", 32, 64, malog.Volatile, "")
	return logstore.New(tailcc.New(kind), bytes, state)
}

func TestForceSnapshotCapturesAllShardTails(t *testing.T) {
	s0 := newTestShard("write-stalled")
	s1 := newTestShard("write-stalled")
	if _, err := s0.Append([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s0.Append([]byte("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := s1.Append([]byte("c")); err != nil {
		t.Fatal(err)
	}

	c := New([]logstore.Proxy{logstore.NewLocalProxy(s0), logstore.NewLocalProxy(s1)})
	v, err := c.ForceSnapshot(context.Background())
	if err != nil {
		t.Fatalf("force snapshot: %v", err)
	}
	if v.Tails[0] != 2 || v.Tails[1] != 1 {
		t.Fatalf("expected tails [2,1], got %v", v.Tails)
	}

	got, ok := c.GetSnapshot(v.ID)
	if !ok {
		t.Fatal("expected snapshot to be retrievable by id")
	}
	if got.Tails[0] != 2 {
		t.Fatalf("expected stored tail 2, got %d", got.Tails[0])
	}
}

func TestForceSnapshotExcludesInFlightWrite(t *testing.T) {
	s0 := newTestShard("write-stalled")
	if _, err := s0.Append([]byte("committed")); err != nil {
		t.Fatal(err)
	}

	cc := s0.CC()
	stalledStart := cc.BeginWrite(1) // never end it

	c := New([]logstore.Proxy{logstore.NewLocalProxy(s0)})
	v, err := c.ForceSnapshot(context.Background())
	if err != nil {
		t.Fatalf("force snapshot: %v", err)
	}
	if v.Tails[0] != stalledStart {
		t.Fatalf("expected snapshot to stop before in-flight write, got tail %d want %d", v.Tails[0], stalledStart)
	}
	cc.EndWrite(stalledStart, 1)
}

func TestRunPeriodicCutsSnapshots(t *testing.T) {
	s0 := newTestShard("read-stalled")
	if _, err := s0.Append([]byte("x")); err != nil {
		t.Fatal(err)
	}
	c := New([]logstore.Proxy{logstore.NewLocalProxy(s0)})

	ctx, cancel := context.WithCancel(context.Background())
	go c.RunPeriodic(ctx, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	cancel()
	c.Stop()

	if _, ok := c.Latest(); !ok {
		t.Fatal("expected at least one periodic snapshot to have been cut")
	}
}
