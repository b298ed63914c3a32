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
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/launix-de/confluo-sub000/logstore"
)

// ErrTransportClosed is returned to every pending and future call once the
// underlying connection has gone away.
var ErrTransportClosed = errors.New("rpc: transport closed")

// pendingEntry carries the still-generic completion callback a reply
// dispatches into; json.Unmarshal targets differ per method so the client
// stores a closure rather than a single channel type.
type pendingEntry struct {
	deliver func(result json.RawMessage, errStr string)
}

// Client owns one persistent websocket connection to a peer shard (or the
// snapshot coordinator talking to a shard) and multiplexes pipelined
// requests over it. One writer goroutine serialises sends; one reader
// goroutine dispatches replies back to whichever caller is waiting, by id.
type Client struct {
	conn *websocket.Conn

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]pendingEntry
	closed  bool

	writeMu sync.Mutex
}

// NewClient wraps an already-dialed websocket connection.
func NewClient(conn *websocket.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[uint64]pendingEntry),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeAll()
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		c.mu.Lock()
		entry, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if ok {
			entry.deliver(f.Result, f.Err)
		}
	}
}

func (c *Client) closeAll() {
	c.mu.Lock()
	c.closed = true
	leftover := c.pending
	c.pending = make(map[uint64]pendingEntry)
	c.mu.Unlock()
	for _, entry := range leftover {
		entry.deliver(nil, ErrTransportClosed.Error())
	}
}

// Close shuts down the connection and fails every pending call.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.closeAll()
	return err
}

func (c *Client) send(method string, params any, deliver func(result json.RawMessage, errStr string)) error {
	raw, err := json.Marshal(params)
	if err != nil {
		deliver(nil, err.Error())
		return nil
	}
	id := c.nextID.Add(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		deliver(nil, ErrTransportClosed.Error())
		return nil
	}
	c.pending[id] = pendingEntry{deliver: deliver}
	c.mu.Unlock()

	frame := Frame{ID: id, Method: method, Params: raw}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("rpc: marshal frame: %w", err)
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		deliver(nil, ErrTransportClosed.Error())
	}
	return nil
}

// RemoteProxy satisfies logstore.Proxy by issuing each operation as a
// framed request over a Client. Reply order need not match send order —
// each reply carries the id of the request it answers — but a given
// caller's own send/recv pair always resolves correctly regardless of
// what else is in flight on the same connection.
type RemoteProxy struct {
	client *Client
}

func NewRemoteProxy(client *Client) *RemoteProxy {
	return &RemoteProxy{client: client}
}

func deliverErr(errStr string) error {
	if errStr == "" {
		return nil
	}
	if errStr == ErrTransportClosed.Error() {
		return ErrTransportClosed
	}
	return errors.New(errStr)
}

func (p *RemoteProxy) SendAppend(payload []byte) *logstore.Call[uint64] {
	call, complete := logstore.NewPendingCall[uint64]()
	p.client.send(MethodAppend, payload, func(result json.RawMessage, errStr string) {
		if err := deliverErr(errStr); err != nil {
			complete(0, err)
			return
		}
		var id uint64
		if err := json.Unmarshal(result, &id); err != nil {
			complete(0, fmt.Errorf("rpc: decode append result: %w", err))
			return
		}
		complete(id, nil)
	})
	return call
}

func (p *RemoteProxy) SendMultiAppend(payloads [][]byte) *logstore.Call[[]uint64] {
	call, complete := logstore.NewPendingCall[[]uint64]()
	p.client.send(MethodMultiAppend, payloads, func(result json.RawMessage, errStr string) {
		if err := deliverErr(errStr); err != nil {
			complete(nil, err)
			return
		}
		var ids []uint64
		if err := json.Unmarshal(result, &ids); err != nil {
			complete(nil, fmt.Errorf("rpc: decode multi_append result: %w", err))
			return
		}
		complete(ids, nil)
	})
	return call
}

func (p *RemoteProxy) SendGet(id, minSnapshot uint64) *logstore.Call[[]byte] {
	call, complete := logstore.NewPendingCall[[]byte]()
	p.client.send(MethodGet, getParams{ID: id, MinSnapshot: minSnapshot}, func(result json.RawMessage, errStr string) {
		if err := deliverErr(errStr); err != nil {
			complete(nil, err)
			return
		}
		var payload []byte
		if err := json.Unmarshal(result, &payload); err != nil {
			complete(nil, fmt.Errorf("rpc: decode get result: %w", err))
			return
		}
		complete(payload, nil)
	})
	return call
}

func (p *RemoteProxy) SendUpdate(id uint64, payload []byte) *logstore.Call[struct{}] {
	call, complete := logstore.NewPendingCall[struct{}]()
	p.client.send(MethodUpdate, updateParams{ID: id, Payload: payload}, func(_ json.RawMessage, errStr string) {
		complete(struct{}{}, deliverErr(errStr))
	})
	return call
}

func (p *RemoteProxy) SendInvalidate(id uint64) *logstore.Call[struct{}] {
	call, complete := logstore.NewPendingCall[struct{}]()
	p.client.send(MethodInvalidate, id, func(_ json.RawMessage, errStr string) {
		complete(struct{}{}, deliverErr(errStr))
	})
	return call
}

func (p *RemoteProxy) SendBeginSnapshot() *logstore.Call[uint64] {
	call, complete := logstore.NewPendingCall[uint64]()
	p.client.send(MethodBeginSnapshot, struct{}{}, func(result json.RawMessage, errStr string) {
		if err := deliverErr(errStr); err != nil {
			complete(0, err)
			return
		}
		var tail uint64
		if err := json.Unmarshal(result, &tail); err != nil {
			complete(0, fmt.Errorf("rpc: decode begin_snapshot result: %w", err))
			return
		}
		complete(tail, nil)
	})
	return call
}

func (p *RemoteProxy) SendEndSnapshot(tail uint64) *logstore.Call[struct{}] {
	call, complete := logstore.NewPendingCall[struct{}]()
	p.client.send(MethodEndSnapshot, endSnapshotParams{Tail: tail}, func(_ json.RawMessage, errStr string) {
		complete(struct{}{}, deliverErr(errStr))
	})
	return call
}

func (p *RemoteProxy) SendNumRecords() *logstore.Call[uint64] {
	call, complete := logstore.NewPendingCall[uint64]()
	p.client.send(MethodNumRecords, struct{}{}, func(result json.RawMessage, errStr string) {
		if err := deliverErr(errStr); err != nil {
			complete(0, err)
			return
		}
		var n uint64
		if err := json.Unmarshal(result, &n); err != nil {
			complete(0, fmt.Errorf("rpc: decode num_records result: %w", err))
			return
		}
		complete(n, nil)
	})
	return call
}
