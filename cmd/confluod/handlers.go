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

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/launix-de/NonLockingReadMap"

	"github.com/launix-de/confluo-sub000/graphlog"
	"github.com/launix-de/confluo-sub000/logstore"
	"github.com/launix-de/confluo-sub000/streamlog"
	"github.com/launix-de/confluo-sub000/tslog"
)

// namedSeries wraps a tslog.Series with the name it's registered under, so
// it can sit in a NonLockingReadMap.NonLockingReadMap keyed by that name.
type namedSeries struct {
	name   string
	series *tslog.Series
}

func (e *namedSeries) GetKey() string    { return e.name }
func (e *namedSeries) ComputeSize() uint { return uint(len(e.name)) + 8 }

// seriesRegistry is the timeseries engine's stream_db equivalent: one
// tslog.Series per name, created lazily on first reference. Reads (every
// HTTP call against an existing series) vastly outnumber writes (creating a
// series for the first time), so it's backed by the same lock-free
// read-optimized map the teacher uses for its own rarely-written directories.
type seriesRegistry struct {
	newShard func(name string) *logstore.Shard

	createMu sync.Mutex
	entries  NonLockingReadMap.NonLockingReadMap[namedSeries, string]
}

func newSeriesRegistry(newShard func(name string) *logstore.Shard) *seriesRegistry {
	return &seriesRegistry{
		newShard: newShard,
		entries:  NonLockingReadMap.New[namedSeries, string](),
	}
}

func (r *seriesRegistry) get(name string) *tslog.Series {
	if e := r.entries.Get(name); e != nil {
		return e.series
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()
	if e := r.entries.Get(name); e != nil {
		return e.series
	}
	s := tslog.New(r.newShard("ts_" + name))
	r.entries.Set(&namedSeries{name: name, series: s})
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	writeJSON(w, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- graph engine HTTP surface -------------------------------------------

func newGraphHandler(g *graphlog.Graph) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/graph/add_node", func(w http.ResponseWriter, r *http.Request) {
		var n graphlog.Node
		if err := decodeBody(r, &n); err != nil {
			writeErr(w, err)
			return
		}
		id, err := g.AddNode(n)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]uint64{"id": id})
	})

	mux.HandleFunc("/graph/get_node", func(w http.ResponseWriter, r *http.Request) {
		nodeType, id, err := parseTypeID(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		n, err := g.GetNode(nodeType, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, n)
	})

	mux.HandleFunc("/graph/update_node", func(w http.ResponseWriter, r *http.Request) {
		var n graphlog.Node
		if err := decodeBody(r, &n); err != nil {
			writeErr(w, err)
			return
		}
		ok, err := g.UpdateNode(n)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": ok})
	})

	mux.HandleFunc("/graph/delete_node", func(w http.ResponseWriter, r *http.Request) {
		nodeType, id, err := parseTypeID(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		ok, err := g.DeleteNode(nodeType, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": ok})
	})

	mux.HandleFunc("/graph/add_link", func(w http.ResponseWriter, r *http.Request) {
		var l graphlog.Link
		if err := decodeBody(r, &l); err != nil {
			writeErr(w, err)
			return
		}
		id, err := g.AddLink(l)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]uint64{"id": id})
	})

	mux.HandleFunc("/graph/update_link", func(w http.ResponseWriter, r *http.Request) {
		var l graphlog.Link
		if err := decodeBody(r, &l); err != nil {
			writeErr(w, err)
			return
		}
		ok, err := g.UpdateLink(l)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": ok})
	})

	mux.HandleFunc("/graph/delete_link", func(w http.ResponseWriter, r *http.Request) {
		id1, linkType, id2, err := parseLinkKey(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		ok, err := g.DeleteLink(id1, linkType, id2)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": ok})
	})

	mux.HandleFunc("/graph/get_link", func(w http.ResponseWriter, r *http.Request) {
		id1, linkType, id2, err := parseLinkKey(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		l, err := g.GetLink(id1, linkType, id2)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, l)
	})

	mux.HandleFunc("/graph/multiget_link", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID1      uint64   `json:"id1"`
			LinkType int64    `json:"link_type"`
			ID2s     []uint64 `json:"id2s"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		links, err := g.MultigetLink(req.ID1, req.LinkType, req.ID2s)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, links)
	})

	mux.HandleFunc("/graph/get_link_list", func(w http.ResponseWriter, r *http.Request) {
		id1, linkType, err := parseID1LinkType(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		links, err := g.GetLinkList(id1, linkType)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, links)
	})

	mux.HandleFunc("/graph/get_link_list_range", func(w http.ResponseWriter, r *http.Request) {
		id1, linkType, err := parseID1LinkType(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		minTS, _ := strconv.ParseInt(r.URL.Query().Get("min_ts"), 10, 64)
		maxTS, _ := strconv.ParseInt(r.URL.Query().Get("max_ts"), 10, 64)
		off, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
		limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
		links, err := g.GetLinkListRange(id1, linkType, minTS, maxTS, off, limit)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, links)
	})

	mux.HandleFunc("/graph/count_links", func(w http.ResponseWriter, r *http.Request) {
		id1, linkType, err := parseID1LinkType(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		n, err := g.CountLinks(id1, linkType)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]int64{"count": n})
	})

	mux.HandleFunc("/graph/begin_snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]uint64{"tail": g.BeginSnapshot()})
	})

	mux.HandleFunc("/graph/end_snapshot", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tail uint64 `json:"tail"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		if err := g.EndSnapshot(req.Tail); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	})

	mux.HandleFunc("/graph/traverse", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID       uint64   `json:"id"`
			LinkType int64    `json:"link_type"`
			Depth    int64    `json:"depth"`
			Breadth  int64    `json:"breadth"`
			Snapshot []uint64 `json:"snapshot"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, err)
			return
		}
		links, err := g.Traverse(r.Context(), req.ID, req.LinkType, req.Depth, req.Breadth, req.Snapshot, map[uint64]bool{req.ID: true})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, links)
	})

	return mux
}

func parseTypeID(r *http.Request) (nodeType int64, id uint64, err error) {
	q := r.URL.Query()
	nodeType, err = strconv.ParseInt(q.Get("type"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid type: %w", err)
	}
	id, err = strconv.ParseUint(q.Get("id"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid id: %w", err)
	}
	return nodeType, id, nil
}

func parseID1LinkType(r *http.Request) (id1 uint64, linkType int64, err error) {
	q := r.URL.Query()
	id1, err = strconv.ParseUint(q.Get("id1"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid id1: %w", err)
	}
	linkType, err = strconv.ParseInt(q.Get("link_type"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid link_type: %w", err)
	}
	return id1, linkType, nil
}

func parseLinkKey(r *http.Request) (id1 uint64, linkType int64, id2 uint64, err error) {
	id1, linkType, err = parseID1LinkType(r)
	if err != nil {
		return 0, 0, 0, err
	}
	id2, err = strconv.ParseUint(r.URL.Query().Get("id2"), 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid id2: %w", err)
	}
	return id1, linkType, id2, nil
}

// --- timeseries engine HTTP surface ---------------------------------------

func newSeriesHandler(reg *seriesRegistry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, op, ok := splitSeriesPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		s := reg.get(name)

		switch op {
		case "insert_values":
			var pts []tslog.DataPt
			if err := decodeBody(r, &pts); err != nil {
				writeErr(w, err)
				return
			}
			id, err := s.InsertValues(pts)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, map[string]uint64{"id": id})

		case "insert_values_block":
			var blocks [][]tslog.DataPt
			if err := decodeBody(r, &blocks); err != nil {
				writeErr(w, err)
				return
			}
			ids, err := s.InsertValuesBlock(blocks)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, ids)

		case "get_range":
			minSnapshot, _ := strconv.ParseUint(r.URL.Query().Get("min_snapshot"), 10, 64)
			fromTS, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
			toTS, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
			pts, err := s.GetRange(minSnapshot, fromTS, toTS)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, pts)

		case "get_range_latest":
			fromTS, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
			toTS, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
			pts, err := s.GetRangeLatest(fromTS, toTS)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, pts)

		case "get_nearest_value":
			minSnapshot, _ := strconv.ParseUint(r.URL.Query().Get("min_snapshot"), 10, 64)
			ts, _ := strconv.ParseInt(r.URL.Query().Get("ts"), 10, 64)
			pt, err := s.GetNearestValue(minSnapshot, ts)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, pt)

		case "get_nearest_value_latest":
			ts, _ := strconv.ParseInt(r.URL.Query().Get("ts"), 10, 64)
			pt, err := s.GetNearestValueLatest(ts)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, pt)

		case "compute_diff":
			minSnapshot, _ := strconv.ParseUint(r.URL.Query().Get("min_snapshot"), 10, 64)
			fromTS, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
			toTS, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
			diff, err := s.ComputeDiff(minSnapshot, fromTS, toTS)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, map[string]float64{"diff": diff})

		case "num_entries":
			writeJSON(w, map[string]int{"count": s.NumEntries()})

		default:
			http.NotFound(w, r)
		}
	})
}

// splitSeriesPath parses "/timeseries/<name>/<op>" into its two parts.
func splitSeriesPath(path string) (name, op string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/timeseries/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// --- streaming log engine HTTP surface ------------------------------------

func newStreamHandler(reg *streamlog.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, op, ok := splitStreamPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		if op == "subscribe" {
			streamlog.SubscribeHandler(reg, id)(w, r)
			return
		}

		stream := reg.AddStream(id)
		switch op {
		case "write":
			var records [][]byte
			if err := decodeBody(r, &records); err != nil {
				writeErr(w, err)
				return
			}
			tail, err := stream.Write(records)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, map[string]uint64{"tail": tail})

		case "read":
			offset, _ := strconv.ParseUint(r.URL.Query().Get("offset"), 10, 64)
			maxBytes, _ := strconv.ParseUint(r.URL.Query().Get("max_bytes"), 10, 64)
			records, nextOffset, err := stream.Read(offset, maxBytes)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, map[string]any{"records": records, "next_offset": nextOffset})

		case "tail":
			writeJSON(w, map[string]uint64{"tail": stream.Tail()})

		default:
			http.NotFound(w, r)
		}
	})
}

// splitStreamPath parses "/stream/<id>/<op>" into its two parts.
func splitStreamPath(path string) (id uint64, op string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/stream/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, "", false
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, parts[1], true
}
