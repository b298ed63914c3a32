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

// Package rpc frames the send_X/recv_X method calls of §6's RPC surface
// over a single persistent websocket connection as JSON request/response
// frames carrying a monotonic request id, so a caller can pipeline many
// requests ahead of their replies while still routing each reply back to
// the right waiting caller regardless of arrival order.
package rpc

import "encoding/json"

// Frame is the wire shape for both requests and responses. A request sets
// Method and Params; a response sets Result or Err and leaves Method empty.
type Frame struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    string          `json:"err,omitempty"`
}

// Known method names for the log-store service (§6). Only the log-store
// service uses this framing; the graph, timeseries and stream engines are
// served by cmd/confluod's JSON-over-HTTP handlers.
const (
	MethodAppend        = "append"
	MethodMultiAppend   = "multi_append"
	MethodGet           = "get"
	MethodUpdate        = "update"
	MethodInvalidate    = "invalidate"
	MethodBeginSnapshot = "begin_snapshot"
	MethodEndSnapshot   = "end_snapshot"
	MethodNumRecords    = "num_records"
)

type getParams struct {
	ID          uint64 `json:"id"`
	MinSnapshot uint64 `json:"min_snapshot"`
}

type updateParams struct {
	ID      uint64 `json:"id"`
	Payload []byte `json:"payload"`
}

type endSnapshotParams struct {
	Tail uint64 `json:"tail"`
}
