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

// confluoctl is an interactive admin shell for ad-hoc log-store calls
// (get, append, update, invalidate, begin_snapshot, end_snapshot,
// num_records) against a running confluod shard, the teacher's
// scm.Repl() equivalent for this store.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"

	"github.com/launix-de/confluo-sub000/logstore"
	"github.com/launix-de/confluo-sub000/rpc"
)

const newprompt = "\033[32mconfluo>\033[0m "
const resultprompt = "\033[31m=\033[0m "

func main() {
	host := flag.String("host", "localhost:9090", "confluod host[:port] to connect to")
	flag.Parse()

	client, err := dial(*host)
	if err != nil {
		fmt.Println("confluoctl: could not connect to", *host+":", err)
		fmt.Println("confluoctl: continuing offline; commands will error until you `connect <host>`")
	}
	var proxy logstore.Proxy
	if client != nil {
		proxy = rpc.NewRemoteProxy(client)
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".confluoctl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r, string(debug.Stack()))
				}
			}()
			if strings.HasPrefix(line, "connect ") {
				target := strings.TrimSpace(strings.TrimPrefix(line, "connect "))
				c, err := dial(target)
				if err != nil {
					fmt.Println("connect failed:", err)
					return
				}
				client = c
				proxy = rpc.NewRemoteProxy(client)
				fmt.Println("connected to", target)
				return
			}
			if proxy == nil {
				fmt.Println("not connected; use `connect host[:port]`")
				return
			}
			runCommand(proxy, line)
		}()
	}
}

func dial(host string) (*rpc.Client, error) {
	url := fmt.Sprintf("ws://%s/rpc", host)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(conn), nil
}

func runCommand(proxy logstore.Proxy, line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Println(`commands:
  connect host[:port]
  append <payload>
  get <id> <min_snapshot>
  update <id> <payload>
  invalidate <id>
  begin_snapshot
  end_snapshot <tail>
  num_records
  quit`)

	case "append":
		id, err := proxy.SendAppend([]byte(strings.Join(args, " "))).Recv()
		report(id, err)

	case "get":
		if len(args) != 2 {
			fmt.Println("usage: get <id> <min_snapshot>")
			return
		}
		id, _ := strconv.ParseUint(args[0], 10, 64)
		minSnapshot, _ := strconv.ParseUint(args[1], 10, 64)
		payload, err := proxy.SendGet(id, minSnapshot).Recv()
		if err != nil {
			fmt.Println(resultprompt, "error:", err)
			return
		}
		fmt.Println(resultprompt, string(payload))

	case "update":
		if len(args) < 2 {
			fmt.Println("usage: update <id> <payload>")
			return
		}
		id, _ := strconv.ParseUint(args[0], 10, 64)
		_, err := proxy.SendUpdate(id, []byte(strings.Join(args[1:], " "))).Recv()
		report("ok", err)

	case "invalidate":
		if len(args) != 1 {
			fmt.Println("usage: invalidate <id>")
			return
		}
		id, _ := strconv.ParseUint(args[0], 10, 64)
		_, err := proxy.SendInvalidate(id).Recv()
		report("ok", err)

	case "begin_snapshot":
		tail, err := proxy.SendBeginSnapshot().Recv()
		report(tail, err)

	case "end_snapshot":
		if len(args) != 1 {
			fmt.Println("usage: end_snapshot <tail>")
			return
		}
		tail, _ := strconv.ParseUint(args[0], 10, 64)
		_, err := proxy.SendEndSnapshot(tail).Recv()
		report("ok", err)

	case "num_records":
		n, err := proxy.SendNumRecords().Recv()
		report(n, err)

	default:
		fmt.Println("unknown command:", cmd, "(try `help`)")
	}
}

func report(v any, err error) {
	var b bytes.Buffer
	if err != nil {
		fmt.Fprint(&b, "error: ", err)
	} else {
		fmt.Fprint(&b, v)
	}
	fmt.Println(resultprompt, b.String())
}
