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

package streamlog

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var subscribeUpgrader = websocket.Upgrader{
	ReadBufferSize:  256,
	WriteBufferSize: 256,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type tailNotice struct {
	Tail uint64 `json:"tail"`
}

// SubscribeHandler upgrades the request to a websocket and pushes the
// stream's tail offset every time new data is written, until the client
// disconnects. It does not replay history — a consumer reconnecting after
// a gap should first Read from its own remembered offset, then Subscribe
// to learn about anything written since.
func SubscribeHandler(registry *Registry, streamID uint64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream, ok := registry.Stream(streamID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		// subscribe before the upgrade completes so a write issued as soon
		// as the client's dial returns is already pushed.
		ch, cancel := stream.Subscribe()
		defer cancel()

		conn, err := subscribeUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("streamlog: subscribe upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// a disconnect is only detectable by reading; pump discards
		// anything the client sends and exits once the read fails.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case tail, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(tailNotice{Tail: tail})
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}
