package streamlog

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/confluo-sub000/malog"
)

func newTestStream() *Stream {
	return NewStream(malog.NewByteLog("stream", 256, 64, malog.Volatile, ""))
}

func TestEncodeThenDecodeBatchRoundTrip(t *testing.T) {
	records := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	buf := EncodeBatch(records)
	got, consumed := DecodeBatch(buf)
	if consumed != len(buf) {
		t.Fatalf("expected to consume the whole buffer, consumed %d of %d", consumed, len(buf))
	}
	if len(got) != 3 || string(got[0]) != "a" || string(got[1]) != "bb" || string(got[2]) != "ccc" {
		t.Fatalf("round trip mismatch: %v", got)
	}
}

func TestDecodeBatchLeavesTrailingPartialRecord(t *testing.T) {
	buf := EncodeBatch([][]byte{[]byte("hello"), []byte("world")})
	truncated := buf[:len(buf)-2] // cut into the second record's payload
	got, consumed := DecodeBatch(truncated)
	if len(got) != 1 || string(got[0]) != "hello" {
		t.Fatalf("expected only the first whole record, got %v", got)
	}
	if consumed != len(EncodeBatch([][]byte{[]byte("hello")})) {
		t.Fatalf("expected consumed to stop before the partial record, got %d", consumed)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	s := newTestStream()
	tail, err := s.Write([][]byte{[]byte("r0"), []byte("r1")})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if tail != s.Tail() {
		t.Fatalf("expected tail %d to match Tail(), got %d", tail, s.Tail())
	}

	records, next, err := s.Read(0, 1024)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 || string(records[0]) != "r0" || string(records[1]) != "r1" {
		t.Fatalf("unexpected records: %v", records)
	}
	if next != tail {
		t.Fatalf("expected next offset to reach tail %d, got %d", tail, next)
	}
}

func TestReadAtTailReturnsEmptyWithoutAdvancing(t *testing.T) {
	s := newTestStream()
	tail, _ := s.Write([][]byte{[]byte("r0")})
	records, next, err := s.Read(tail, 1024)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 0 || next != tail {
		t.Fatalf("expected an empty read at the tail, got %v next=%d", records, next)
	}
}

func TestConsumerResumesFromRememberedOffset(t *testing.T) {
	s := newTestStream()
	s.Write([][]byte{[]byte("r0")})

	records, off, err := s.Read(0, 1024)
	if err != nil || len(records) != 1 {
		t.Fatalf("first read: records=%v err=%v", records, err)
	}

	s.Write([][]byte{[]byte("r1")})
	records, _, err = s.Read(off, 1024)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if len(records) != 1 || string(records[0]) != "r1" {
		t.Fatalf("expected only the newly written record, got %v", records)
	}
}

func TestRegistryAddStreamIsIdempotent(t *testing.T) {
	r := NewRegistry(func(id uint64) *malog.ByteLog {
		return malog.NewByteLog("s", 256, 64, malog.Volatile, "")
	})
	a := r.AddStream(7)
	b := r.AddStream(7)
	if a != b {
		t.Fatal("expected AddStream to be idempotent for the same id")
	}
}

func TestSubscribeNotifiesOnWrite(t *testing.T) {
	s := newTestStream()
	ch, cancel := s.Subscribe()
	defer cancel()

	tail, err := s.Write([][]byte{[]byte("x")})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-ch:
		if got != tail {
			t.Fatalf("expected notification of tail %d, got %d", tail, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribe notification")
	}
}

func TestSubscribeHandlerPushesTailOverWebsocket(t *testing.T) {
	r := NewRegistry(func(id uint64) *malog.ByteLog {
		return malog.NewByteLog("s", 256, 64, malog.Volatile, "")
	})
	stream := r.AddStream(1)

	server := httptest.NewServer(SubscribeHandler(r, 1))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	tail, err := stream.Write([][]byte{[]byte("hi")})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var notice tailNotice
	if err := conn.ReadJSON(&notice); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if notice.Tail != tail {
		t.Fatalf("expected pushed tail %d, got %d", tail, notice.Tail)
	}
}
