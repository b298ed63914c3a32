package shardkey

import (
	"math/rand"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r, err := New(4)
	if err != nil {
		t.Fatal(err)
	}
	for shard := uint64(0); shard < 4; shard++ {
		for local := uint64(0); local < 100; local++ {
			global, err := r.Encode(local, shard)
			if err != nil {
				t.Fatalf("encode(%d,%d): %v", local, shard, err)
			}
			gotLocal, gotShard := r.Decode(global)
			if gotLocal != local || gotShard != shard {
				t.Fatalf("decode(%d) = (%d,%d), want (%d,%d)", global, gotLocal, gotShard, local, shard)
			}
		}
	}
}

func TestEncodeRejectsShardOutOfRange(t *testing.T) {
	r, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Encode(0, 3); err == nil {
		t.Fatal("expected error for shard == n")
	}
}

func TestShardForMatchesDecode(t *testing.T) {
	r, err := New(7)
	if err != nil {
		t.Fatal(err)
	}
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		global := rnd.Uint64() % (1 << 32)
		_, shard := r.Decode(global)
		if r.ShardFor(global) != shard {
			t.Fatalf("ShardFor(%d)=%d, Decode gave shard %d", global, r.ShardFor(global), shard)
		}
	}
}

func TestNewRejectsZeroShards(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for n=0")
	}
}
