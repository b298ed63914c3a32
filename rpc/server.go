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
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/launix-de/confluo-sub000/logstore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server dispatches framed requests against one local shard. Each accepted
// connection gets its own goroutine; within a connection requests are
// processed one at a time in arrival order, so replies come back in the
// order the requests were sent. RemoteProxy still routes each reply by its
// id rather than by position.
type Server struct {
	Shard *logstore.Shard
}

func NewServer(shard *logstore.Shard) *Server {
	return &Server{Shard: shard}
}

// Handler returns an http.HandlerFunc that upgrades to a websocket and
// serves framed requests for the lifetime of the connection.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("rpc: upgrade failed: %v", err)
			return
		}
		s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn *websocket.Conn) {
	defer conn.Close()
	replyWriter := &connWriter{conn: conn}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		s.dispatch(f, replyWriter)
	}
}

// connWriter guards reply writes onto one connection; the gorilla/websocket
// connection itself permits only one writer at a time.
type connWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *connWriter) write(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) dispatch(req Frame, w *connWriter) {
	reply := Frame{ID: req.ID}
	result, err := s.call(req)
	if err != nil {
		reply.Err = err.Error()
	} else {
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			reply.Err = marshalErr.Error()
		} else {
			reply.Result = raw
		}
	}
	w.write(reply)
}

func (s *Server) call(req Frame) (any, error) {
	switch req.Method {
	case MethodAppend:
		var payload []byte
		if err := json.Unmarshal(req.Params, &payload); err != nil {
			return nil, fmt.Errorf("rpc: decode append params: %w", err)
		}
		return s.Shard.Append(payload)

	case MethodMultiAppend:
		var payloads [][]byte
		if err := json.Unmarshal(req.Params, &payloads); err != nil {
			return nil, fmt.Errorf("rpc: decode multi_append params: %w", err)
		}
		return s.Shard.MultiAppend(payloads)

	case MethodGet:
		var p getParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("rpc: decode get params: %w", err)
		}
		return s.Shard.Get(p.ID, p.MinSnapshot)

	case MethodUpdate:
		var p updateParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("rpc: decode update params: %w", err)
		}
		if err := s.Shard.Update(p.ID, p.Payload); err != nil {
			return nil, err
		}
		return true, nil

	case MethodInvalidate:
		var id uint64
		if err := json.Unmarshal(req.Params, &id); err != nil {
			return nil, fmt.Errorf("rpc: decode invalidate params: %w", err)
		}
		if err := s.Shard.Invalidate(id); err != nil {
			return nil, err
		}
		return true, nil

	case MethodBeginSnapshot:
		return s.Shard.BeginSnapshot(), nil

	case MethodEndSnapshot:
		var p endSnapshotParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("rpc: decode end_snapshot params: %w", err)
		}
		if err := s.Shard.EndSnapshot(p.Tail); err != nil {
			return nil, err
		}
		return true, nil

	case MethodNumRecords:
		return s.Shard.NumRecords(), nil

	default:
		return nil, fmt.Errorf("rpc: unknown method %q", req.Method)
	}
}
