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

// ts-import bulk-loads timestamp/value rows out of an external relational
// table and replays them through a running confluod's
// insert_values_block timeseries endpoint, the way the teacher's
// storage/mysql_import.go replays external rows through Insert.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/launix-de/confluo-sub000/tslog"
)

func main() {
	driver := flag.String("driver", "mysql", "mysql|postgres")
	dsn := flag.String("dsn", "", "source database connection string")
	query := flag.String("query", "", "SELECT statement returning (timestamp, value) rows")
	series := flag.String("series", "", "target series name on confluod")
	confluodHost := flag.String("confluod", "localhost:9090", "confluod host[:port]")
	batchSize := flag.Int("batch-size", 1024, "rows per insert_values_block batch")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall import timeout")
	flag.Parse()

	if *dsn == "" || *query == "" || *series == "" {
		fmt.Fprintln(os.Stderr, "ts-import: -dsn, -query and -series are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := openSource(ctx, *driver, *dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ts-import: connect:", err)
		os.Exit(1)
	}
	defer db.Close()

	n, err := runImport(ctx, db, *query, *confluodHost, *series, *batchSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ts-import:", err)
		os.Exit(1)
	}
	fmt.Printf("ts-import: replayed %d points into series %q\n", n, *series)
}

func openSource(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	driverName := driver
	if driver == "postgres" {
		driverName = "postgres"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runImport(ctx context.Context, db *sql.DB, query, confluodHost, series string, batchSize int) (int, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	total := 0
	block := make([]tslog.DataPt, 0, batchSize)
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		if err := postBlock(ctx, confluodHost, series, block); err != nil {
			return err
		}
		total += len(block)
		block = block[:0]
		return nil
	}

	for rows.Next() {
		var ts int64
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return total, fmt.Errorf("scan: %w", err)
		}
		block = append(block, tslog.DataPt{Timestamp: ts, Value: value})
		if len(block) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

// postBlock sends one insert_values_block batch of points (as a single
// one-record block, matching confluod's HTTP surface for the op) to the
// target series.
func postBlock(ctx context.Context, host, series string, pts []tslog.DataPt) error {
	body, err := json.Marshal([][]tslog.DataPt{pts})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s/timeseries/%s/insert_values_block", host, series)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("confluod returned %s", resp.Status)
	}
	return nil
}
