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

// confluod is one shard server: it hosts a generic Log Store Shard (the
// append/get/update/invalidate/snapshot RPC surface of §6), the graph,
// timeseries and streaming engines built over the same core, and an
// optional periodic Snapshot Coordinator role.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/dc0d/onexit"
	"github.com/gorilla/websocket"

	"github.com/launix-de/confluo-sub000/cold"
	"github.com/launix-de/confluo-sub000/config"
	"github.com/launix-de/confluo-sub000/graphlog"
	"github.com/launix-de/confluo-sub000/logstore"
	"github.com/launix-de/confluo-sub000/malog"
	"github.com/launix-de/confluo-sub000/rpc"
	"github.com/launix-de/confluo-sub000/shardkey"
	"github.com/launix-de/confluo-sub000/snapshot"
	"github.com/launix-de/confluo-sub000/streamlog"
	"github.com/launix-de/confluo-sub000/tailcc"
)

func main() {
	fmt.Print(`confluod Copyright (C) 2023-2026  Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	var (
		port           = flag.Int("port", 9090, "RPC listen port")
		cc             = flag.String("concurrency-control", "read-stalled", "read-stalled|write-stalled")
		storage        = flag.String("storage", "in-memory", "in-memory|durable-relaxed|durable")
		dataPath       = flag.String("data-path", "./data", "directory root for durable MAL buckets")
		hostList       = flag.String("host-list", "", "path to the shard host-list file")
		serverID       = flag.Int("server-id", 0, "this process's shard id")
		sleepUs        = flag.Int64("sleep-us", 0, "microseconds between snapshot rounds (coordinator only)")
		bucketSizeStr  = flag.String("bucket-size", "", "override default bucket size (e.g. 64Ki)")
		dirSizeStr     = flag.String("directory-size", "", "override default bucket directory size")
		runCoordinator = flag.Bool("coordinator", false, "also run the periodic Snapshot Coordinator against host-list peers")
		archiveBackend = flag.String("archive-backend", "none", "none|local|s3|ceph cold-tier backend")
		archiveRoot    = flag.String("archive-root", "./archive", "root directory for the local archive backend")
	)
	flag.Parse()

	opts := map[string]string{
		"port":                fmt.Sprint(*port),
		"concurrency-control": *cc,
		"storage":             *storage,
		"data-path":           *dataPath,
		"server-id":           fmt.Sprint(*serverID),
		"sleep-us":            fmt.Sprint(*sleepUs),
	}
	if *hostList != "" {
		opts["host-list"] = *hostList
	}
	if *bucketSizeStr != "" {
		opts["bucket-size"] = *bucketSizeStr
	}
	if *dirSizeStr != "" {
		opts["directory-size"] = *dirSizeStr
	}
	if err := config.InitSettings(opts); err != nil {
		fmt.Fprintln(os.Stderr, "confluod: config:", err)
		os.Exit(1)
	}

	shardCount := uint64(1)
	var hosts []string
	if config.Settings.HostListPath != "" {
		var err error
		hosts, err = config.HostList(config.Settings.HostListPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "confluod: host-list:", err)
			os.Exit(1)
		}
		shardCount = uint64(len(hosts))
	}

	router, err := shardkey.New(shardCount)
	if err != nil {
		fmt.Fprintln(os.Stderr, "confluod: shard router:", err)
		os.Exit(1)
	}

	durability := malogDurability(config.Settings.Storage)
	newByteLog := func(name string) *malog.ByteLog {
		return malog.NewByteLog(name, config.Settings.BucketSize, config.Settings.DirectorySize, durability, config.Settings.DataPath)
	}
	newStateLog := func(name string) *malog.Log[atomic.Uint64] {
		return malog.New[atomic.Uint64](name, config.Settings.BucketSize, config.Settings.DirectorySize, durability, config.Settings.DataPath)
	}
	newShard := func(name string) *logstore.Shard {
		return logstore.New(tailcc.New(string(config.Settings.ConcurrencyControl)), newByteLog(name+"_data"), newStateLog(name+"_state"))
	}

	dataShard := newShard("shard")
	server := rpc.NewServer(dataShard)

	graphNodes := newShard("graph_nodes")
	graphLinks := newShard("graph_links")
	graph := graphlog.New(router, uint64(*serverID), graphNodes, graphLinks)
	peers := make([]graphlog.Proxy, shardCount)
	for i := range peers {
		if uint64(i) == uint64(*serverID) {
			peers[i] = &graphlog.LocalProxy{Graph: graph}
		} else {
			peers[i] = unavailablePeer{shard: uint64(i)}
		}
	}
	graph.SetPeers(peers)

	series := newSeriesRegistry(newShard)
	streams := streamlog.NewRegistry(newByteLog)

	mux := http.NewServeMux()
	mux.Handle("/rpc", recoverMiddleware(server.Handler()))
	mux.Handle("/graph/", recoverMiddleware(newGraphHandler(graph)))
	mux.Handle("/timeseries/", recoverMiddleware(newSeriesHandler(series)))
	mux.Handle("/stream/", recoverMiddleware(newStreamHandler(streams)))

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%d", config.Settings.Port),
		Handler:        mux,
		ReadTimeout:    300 * time.Second,
		WriteTimeout:   300 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	backend := newArchiveBackend(*archiveBackend, *archiveRoot)
	var archiverList []*cold.Archiver
	if backend != nil {
		archiverList = []*cold.Archiver{
			cold.NewArchiver("shard", dataShard.Bytes(), backend, cold.LZ4Codec{}),
			cold.NewArchiver("graph_nodes", graphNodes.Bytes(), backend, cold.LZ4Codec{}),
			cold.NewArchiver("graph_links", graphLinks.Bytes(), backend, cold.LZ4Codec{}),
		}
		go runArchivalLoop(archiverList, 30*time.Second)
	}

	onexit.Add(func() {
		fmt.Println("confluod: shutting down, flushing archival backlog")
		if backend != nil {
			for _, a := range archiverList {
				a.ArchiveSealed(context.Background())
			}
		}
	})

	if *runCoordinator {
		proxies := make([]logstore.Proxy, shardCount)
		proxies[*serverID] = logstore.NewLocalProxy(dataShard)
		for i, host := range hosts {
			if uint64(i) == uint64(*serverID) {
				continue
			}
			client, err := dialShard(host)
			if err != nil {
				fmt.Fprintf(os.Stderr, "confluod: coordinator: dial shard %d (%s): %v\n", i, host, err)
				continue
			}
			proxies[i] = rpc.NewRemoteProxy(client)
		}
		coord := snapshot.New(proxies)
		interval := time.Duration(config.Settings.SleepMicros) * time.Microsecond
		if interval <= 0 {
			interval = time.Millisecond
		}
		go coord.RunPeriodic(context.Background(), interval)
		defer coord.Stop()
	}

	fmt.Printf("confluod: shard %d listening on :%d\n", config.Settings.ServerID, config.Settings.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, "confluod:", err)
		os.Exit(1)
	}
}

func malogDurability(mode config.StorageMode) malog.Durability {
	switch mode {
	case config.DurableStrict:
		return malog.DurableStrict
	case config.DurableRelaxed:
		return malog.DurableRelaxed
	default:
		return malog.Volatile
	}
}

// unavailablePeer stands in for a shard this process has no transport to
// yet; wiring a real cross-process graphlog.Proxy is a straightforward
// repeat of the rpc package's framing once a concrete multi-shard graph
// deployment needs it (see graphlog.Proxy's doc comment).
type unavailablePeer struct {
	shard uint64
}

func (p unavailablePeer) Traverse(ctx context.Context, id uint64, linkType int64, depth, breadth int64, snapshot []uint64, visited map[uint64]bool) ([]graphlog.Link, error) {
	return nil, fmt.Errorf("confluod: no transport configured to shard %d", p.shard)
}

func dialShard(host string) (*rpc.Client, error) {
	url := fmt.Sprintf("ws://%s/rpc", host)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(conn), nil
}

func newArchiveBackend(kind, root string) cold.Backend {
	switch kind {
	case "local":
		return cold.NewLocalBackend(root)
	case "s3":
		return cold.NewS3Backend(os.Getenv("CONFLUO_S3_BUCKET"), os.Getenv("CONFLUO_S3_PREFIX"))
	case "ceph":
		return cold.NewCephBackend(os.Getenv("CONFLUO_CEPH_POOL"), os.Getenv("CONFLUO_CEPH_PREFIX"))
	default:
		return nil
	}
}

func runArchivalLoop(archivers []*cold.Archiver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		for _, a := range archivers {
			if _, err := a.ArchiveSealed(context.Background()); err != nil {
				fmt.Fprintln(os.Stderr, "confluod: archive:", err)
			}
		}
	}
}

// recoverMiddleware catches panics from a handler and reports 500 Internal
// Server Error instead of crashing the process, mirroring the teacher's
// own defer-recover around its HTTP dispatch.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				fmt.Fprintln(os.Stderr, "confluod: panic in http handler:", rec)
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, fmt.Sprintf("500 Internal Server Error: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// newSeriesRegistry and the timeseries/graph/stream HTTP dispatch live in
// sibling files to keep this entrypoint focused on wiring.
