package rpc

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/confluo-sub000/logstore"
	"github.com/launix-de/confluo-sub000/malog"
	"github.com/launix-de/confluo-sub000/tailcc"
)

func newTestServer(t *testing.T) (*httptest.Server, *RemoteProxy) {
	t.Helper()
	bytes := malog.NewByteLog("payload", 256, 64, malog.Volatile, "")
	state := malog.New[atomic.Uint64]("state", 32, 64, malog.Volatile, "")
	shard := logstore.New(tailcc.New("write-stalled"), bytes, state)

	server := NewServer(shard)
	httpServer := httptest.NewServer(server.Handler())

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := NewClient(conn)
	return httpServer, NewRemoteProxy(client)
}

func TestRemoteProxyAppendAndGetRoundTrip(t *testing.T) {
	server, proxy := newTestServer(t)
	defer server.Close()

	appendCall := proxy.SendAppend([]byte("remote-hello"))
	id, err := appendCall.Recv()
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	snapCall := proxy.SendBeginSnapshot()
	tail, err := snapCall.Recv()
	if err != nil {
		t.Fatalf("begin_snapshot: %v", err)
	}

	getCall := proxy.SendGet(id, tail)
	got, err := getCall.Recv()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "remote-hello" {
		t.Fatalf("expected remote-hello, got %q", got)
	}
}

func TestRemoteProxyPipelinesMultipleSends(t *testing.T) {
	server, proxy := newTestServer(t)
	defer server.Close()

	const n = 20
	calls := make([]*logstore.Call[uint64], n)
	for i := 0; i < n; i++ {
		calls[i] = proxy.SendAppend([]byte{byte(i)})
	}
	ids := make([]uint64, n)
	for i, c := range calls {
		id, err := c.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		ids[i] = id
	}
	seen := make(map[uint64]bool)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestRemoteProxyReportsTransportClosed(t *testing.T) {
	server, proxy := newTestServer(t)
	server.Close()
	time.Sleep(10 * time.Millisecond)

	call := proxy.SendNumRecords()
	_, err := call.Recv()
	if err == nil {
		t.Fatal("expected an error once the transport has closed")
	}
}
