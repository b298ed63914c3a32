package malog

import (
	"sync"
	"testing"
)

func TestAppendAssignsMonotonicGapFreeIndices(t *testing.T) {
	l := New[uint64]("test", 16, 8, Volatile, "")
	for i := uint64(0); i < 100; i++ {
		got, err := l.Append(i)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if got != i {
			t.Fatalf("expected index %d, got %d", i, got)
		}
	}
	if l.Size() != 100 {
		t.Fatalf("expected size 100, got %d", l.Size())
	}
}

func TestAtAddressStability(t *testing.T) {
	l := New[uint64]("test", 4, 8, Volatile, "")
	i, err := l.Append(42)
	if err != nil {
		t.Fatal(err)
	}
	p1, _ := l.At(i)
	p2, _ := l.At(i)
	if p1 != p2 {
		t.Fatalf("expected stable address for slot %d, got %p vs %p", i, p1, p2)
	}
	if *p1 != 42 {
		t.Fatalf("expected 42, got %d", *p1)
	}
}

func TestConcurrentReserveIsGapFree(t *testing.T) {
	l := New[uint64]("test", 32, 64, Volatile, "")
	const workers = 16
	const perWorker = 200
	var wg sync.WaitGroup
	seen := make([][]uint64, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]uint64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				id, err := l.Append(uint64(w))
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				ids = append(ids, id)
			}
			seen[w] = ids
		}(w)
	}
	wg.Wait()

	total := workers * perWorker
	if int(l.Size()) != total {
		t.Fatalf("expected size %d, got %d", total, l.Size())
	}
	covered := make([]bool, total)
	for _, ids := range seen {
		for _, id := range ids {
			if covered[id] {
				t.Fatalf("duplicate id %d allocated to two writers", id)
			}
			covered[id] = true
		}
	}
	for i, ok := range covered {
		if !ok {
			t.Fatalf("gap in allocated ids at %d", i)
		}
	}
}

func TestCapacityExceeded(t *testing.T) {
	l := New[uint64]("test", 4, 2, Volatile, "") // 8 slots max
	for i := uint64(0); i < 8; i++ {
		if _, err := l.Append(i); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	if _, err := l.Append(8); err == nil {
		t.Fatal("expected capacity exceeded error")
	}
}

func TestDurableRecoveryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := New[uint64]("words", 16, 8, DurableStrict, dir)
	for i := uint64(0); i < 40; i++ {
		if _, err := l.Append(i * 7); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := New[uint64]("words", 16, 8, DurableStrict, dir)
	if err := reopened.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if reopened.Size() < 40 {
		t.Fatalf("expected recovered size >= 40, got %d", reopened.Size())
	}
	for i := uint64(0); i < 40; i++ {
		p, err := reopened.At(i)
		if err != nil {
			t.Fatalf("at %d: %v", i, err)
		}
		if *p != i*7 {
			t.Fatalf("slot %d: expected %d, got %d", i, i*7, *p)
		}
	}
	reopened.Close()
}
