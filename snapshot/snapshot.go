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

// Package snapshot implements the Snapshot Coordinator: a two-phase atomic
// cut across every shard's visible tail, pipelined with errgroup so the
// phase's wall-clock cost is the slowest shard, not the sum of all shards.
//
// Phase one asks every shard to begin_snapshot and records its tail; phase
// two confirms end_snapshot on every shard once all tails are captured. The
// resulting vector — one tail per shard — is appended to an in-memory
// history so later reads can pin a consistent view across shards.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/launix-de/confluo-sub000/logstore"
)

// Vector is one snapshot: the per-shard visible tail captured atomically
// across all shards at the moment the snapshot was cut.
type Vector struct {
	ID    uint64
	Tails []uint64
}

// Coordinator owns one snapshot history over a fixed set of shard proxies.
type Coordinator struct {
	shards []logstore.Proxy

	mu      sync.RWMutex
	history []Vector

	stop chan struct{}
	done chan struct{}
}

// New builds a Coordinator over the given shard proxies, in shard-id order.
func New(shards []logstore.Proxy) *Coordinator {
	return &Coordinator{
		shards: shards,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ForceSnapshot cuts a new snapshot immediately: phase one collects every
// shard's begin_snapshot tail concurrently, phase two confirms end_snapshot
// on every shard once all tails are in hand. Safe to call concurrently with
// ongoing writes on any shard — begin_snapshot never blocks a writer.
func (c *Coordinator) ForceSnapshot(ctx context.Context) (Vector, error) {
	tails := make([]uint64, len(c.shards))

	g, ctx := errgroup.WithContext(ctx)
	for i, shard := range c.shards {
		i, shard := i, shard
		g.Go(func() error {
			call := shard.SendBeginSnapshot()
			tail, err := call.Recv()
			if err != nil {
				return fmt.Errorf("snapshot: shard %d begin_snapshot: %w", i, err)
			}
			tails[i] = tail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Vector{}, err
	}

	g2, _ := errgroup.WithContext(ctx)
	for i, shard := range c.shards {
		i, shard, tail := i, shard, tails[i]
		g2.Go(func() error {
			call := shard.SendEndSnapshot(tail)
			if _, err := call.Recv(); err != nil {
				return fmt.Errorf("snapshot: shard %d end_snapshot: %w", i, err)
			}
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return Vector{}, err
	}

	c.mu.Lock()
	v := Vector{ID: uint64(len(c.history)), Tails: tails}
	c.history = append(c.history, v)
	c.mu.Unlock()
	return v, nil
}

// GetSnapshot returns a previously cut snapshot by id.
func (c *Coordinator) GetSnapshot(id uint64) (Vector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id >= uint64(len(c.history)) {
		return Vector{}, false
	}
	return c.history[id], true
}

// Latest returns the most recently cut snapshot, if any.
func (c *Coordinator) Latest() (Vector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return Vector{}, false
	}
	return c.history[len(c.history)-1], true
}

// RunPeriodic cuts a snapshot every interval until Stop is called. Intended
// to run in its own goroutine for the lifetime of the server process.
func (c *Coordinator) RunPeriodic(ctx context.Context, interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snapCtx, cancel := context.WithTimeout(ctx, interval)
			if _, err := c.ForceSnapshot(snapCtx); err != nil {
				// a failed periodic snapshot is not fatal; the next tick retries.
				_ = err
			}
			cancel()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop requests RunPeriodic to exit and waits for it to do so. Must not be
// called unless RunPeriodic is running in another goroutine.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
}
