package tslog

import (
	"sync/atomic"
	"testing"

	"github.com/launix-de/confluo-sub000/logstore"
	"github.com/launix-de/confluo-sub000/malog"
	"github.com/launix-de/confluo-sub000/tailcc"
)

func newTestSeries() *Series {
	bytes := malog.NewByteLog("payload", 1024, 256, malog.Volatile, "")
	state := malog.New[atomic.Uint64]("state", 32, 256, malog.Volatile, "")
	shard := logstore.New(tailcc.New("write-stalled"), bytes, state)
	return New(shard)
}

func TestViewBlockRejectsMisalignedLength(t *testing.T) {
	if _, err := ViewBlock(make([]byte, dataPtSize+1)); err == nil {
		t.Fatal("expected an error for a misaligned block")
	}
}

func TestEncodeThenViewBlockRoundTrip(t *testing.T) {
	pts := []DataPt{{Timestamp: 1, Value: 1.5}, {Timestamp: 2, Value: 2.5}}
	buf := EncodeBlock(pts)
	if len(buf) != 2*dataPtSize {
		t.Fatalf("expected %d bytes, got %d", 2*dataPtSize, len(buf))
	}
	back, err := ViewBlock(buf)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(back) != 2 || back[0] != pts[0] || back[1] != pts[1] {
		t.Fatalf("round trip mismatch: %v", back)
	}
}

func TestInsertValuesThenGetRange(t *testing.T) {
	s := newTestSeries()
	if _, err := s.InsertValues([]DataPt{{Timestamp: 10, Value: 1}, {Timestamp: 30, Value: 3}}); err != nil {
		t.Fatalf("insert_values: %v", err)
	}
	if _, err := s.InsertValues([]DataPt{{Timestamp: 20, Value: 2}}); err != nil {
		t.Fatalf("insert_values: %v", err)
	}

	got, err := s.GetRangeLatest(10, 30)
	if err != nil {
		t.Fatalf("get_range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d: %v", len(got), got)
	}
	for i := 0; i < len(got)-1; i++ {
		if got[i].Timestamp > got[i+1].Timestamp {
			t.Fatalf("expected timestamp order despite insertion order, got %v", got)
		}
	}
}

func TestGetRangeNarrowsWindow(t *testing.T) {
	s := newTestSeries()
	s.InsertValues([]DataPt{{Timestamp: 10, Value: 1}, {Timestamp: 20, Value: 2}, {Timestamp: 30, Value: 3}})

	got, err := s.GetRangeLatest(15, 25)
	if err != nil {
		t.Fatalf("get_range: %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != 20 {
		t.Fatalf("expected only the 20 timestamp point, got %v", got)
	}
}

func TestGetRangeExcludesPointsOutsideSnapshot(t *testing.T) {
	s := newTestSeries()
	id1, _ := s.InsertValues([]DataPt{{Timestamp: 10, Value: 1}})
	_ = id1
	snapshot := s.shard.NumRecords()
	s.InsertValues([]DataPt{{Timestamp: 20, Value: 2}})

	got, err := s.GetRange(snapshot, 0, 100)
	if err != nil {
		t.Fatalf("get_range: %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != 10 {
		t.Fatalf("expected only the pre-snapshot point, got %v", got)
	}
}

func TestGetNearestValuePicksClosest(t *testing.T) {
	s := newTestSeries()
	s.InsertValues([]DataPt{{Timestamp: 10, Value: 1}, {Timestamp: 20, Value: 2}})

	p, err := s.GetNearestValueLatest(13)
	if err != nil {
		t.Fatalf("get_nearest_value: %v", err)
	}
	if p.Timestamp != 10 {
		t.Fatalf("expected nearest to 13 to be 10, got %d", p.Timestamp)
	}

	p, err = s.GetNearestValueLatest(17)
	if err != nil {
		t.Fatalf("get_nearest_value: %v", err)
	}
	if p.Timestamp != 20 {
		t.Fatalf("expected nearest to 17 to be 20, got %d", p.Timestamp)
	}
}

func TestComputeDiff(t *testing.T) {
	s := newTestSeries()
	s.InsertValues([]DataPt{{Timestamp: 10, Value: 5}, {Timestamp: 20, Value: 9}})

	diff, err := s.ComputeDiff(s.shard.NumRecords(), 10, 20)
	if err != nil {
		t.Fatalf("compute_diff: %v", err)
	}
	if diff != 4 {
		t.Fatalf("expected diff 4, got %v", diff)
	}
}

func TestInsertValuesBlockAssignsOneIDPerBlock(t *testing.T) {
	s := newTestSeries()
	ids, err := s.InsertValuesBlock([][]DataPt{
		{{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 2}},
		{{Timestamp: 3, Value: 3}},
	})
	if err != nil {
		t.Fatalf("insert_values_block: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if s.NumEntries() != 3 {
		t.Fatalf("expected 3 indexed points, got %d", s.NumEntries())
	}
}
