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

// Package config holds the recognised process-wide options (§6 of the
// specification this repository implements) and the host-list watcher that
// keeps the shard-routing table current without a restart.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ConcurrencyControl selects the tail discipline a shard runs under.
type ConcurrencyControl string

const (
	ReadStalled  ConcurrencyControl = "read-stalled"
	WriteStalled ConcurrencyControl = "write-stalled"
)

// StorageMode selects a MAL's durability tier.
type StorageMode string

const (
	InMemory       StorageMode = "in-memory"
	DurableRelaxed StorageMode = "durable-relaxed"
	DurableStrict  StorageMode = "durable"
)

// SettingsT mirrors the teacher's SettingsT convention: one struct holding
// every recognised option, populated once at startup and read thereafter
// through the package-level Settings var.
type SettingsT struct {
	Port               int
	ConcurrencyControl ConcurrencyControl
	Storage            StorageMode
	DataPath           string
	HostListPath       string
	ServerID           int
	SleepMicros        int64
	BucketSize         uint64
	DirectorySize      uint64
}

// Settings is the process-wide configuration, set once by InitSettings.
var Settings = defaults()

func defaults() SettingsT {
	return SettingsT{
		Port:               9090,
		ConcurrencyControl: ReadStalled,
		Storage:            InMemory,
		DataPath:           "./data",
		ServerID:           0,
		SleepMicros:        0,
		BucketSize:         1 << 16,
		DirectorySize:      1 << 14,
	}
}

// ChangeSettings applies fn to Settings under a lock, mirroring the
// teacher's accessor around its own package-level settings value.
var settingsMu sync.Mutex

func ChangeSettings(fn func(*SettingsT)) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	fn(&Settings)
}

// InitSettings parses the recognised options out of a flat string map (as
// read from a config file or flags) and installs them into Settings. Sizes
// are parsed with docker/go-units so operators can write "64Ki"/"1Gi"
// instead of a raw byte count.
func InitSettings(opts map[string]string) error {
	s := defaults()

	if v, ok := opts["port"]; ok {
		if _, err := fmt.Sscanf(v, "%d", &s.Port); err != nil {
			return fmt.Errorf("config: invalid port %q: %w", v, err)
		}
	}
	if v, ok := opts["concurrency-control"]; ok {
		switch ConcurrencyControl(v) {
		case ReadStalled, WriteStalled:
			s.ConcurrencyControl = ConcurrencyControl(v)
		default:
			return fmt.Errorf("config: unknown concurrency-control %q", v)
		}
	}
	if v, ok := opts["storage"]; ok {
		switch StorageMode(v) {
		case InMemory, DurableRelaxed, DurableStrict:
			s.Storage = StorageMode(v)
		default:
			return fmt.Errorf("config: unknown storage mode %q", v)
		}
	}
	if v, ok := opts["data-path"]; ok {
		s.DataPath = v
	}
	if v, ok := opts["host-list"]; ok {
		s.HostListPath = v
	}
	if v, ok := opts["server-id"]; ok {
		if _, err := fmt.Sscanf(v, "%d", &s.ServerID); err != nil {
			return fmt.Errorf("config: invalid server-id %q: %w", v, err)
		}
	}
	if v, ok := opts["sleep-us"]; ok {
		if _, err := fmt.Sscanf(v, "%d", &s.SleepMicros); err != nil {
			return fmt.Errorf("config: invalid sleep-us %q: %w", v, err)
		}
	}
	if v, ok := opts["bucket-size"]; ok {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("config: invalid bucket-size %q: %w", v, err)
		}
		s.BucketSize = uint64(n)
	}
	if v, ok := opts["directory-size"]; ok {
		n, err := units.RAMInBytes(v)
		if err != nil {
			return fmt.Errorf("config: invalid directory-size %q: %w", v, err)
		}
		s.DirectorySize = uint64(n)
	}

	ChangeSettings(func(dst *SettingsT) { *dst = s })
	return nil
}

// ServerIdentity returns a stable identity string for this process: the
// configured server-id if set, otherwise a random UUID (useful for
// correlating log lines from ad-hoc single-shard instances during
// development, per the teacher's own use of uuid for such throwaway ids).
func ServerIdentity(serverID int, explicit bool) string {
	if explicit {
		return fmt.Sprintf("shard-%d", serverID)
	}
	return uuid.New().String()
}

// HostList reads a host-list file: one "host[:port]" entry per line, line
// index becomes shard id; blank lines and lines starting with # are
// skipped.
func HostList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open host-list %s: %w", path, err)
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read host-list %s: %w", path, err)
	}
	return hosts, nil
}

// WatchHostList calls onChange with the freshly re-read host list whenever
// path is written or renamed-over (the common atomic-replace pattern for
// config files), until ctx-like stop is closed.
func WatchHostList(path string, stop <-chan struct{}, onChange func([]string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(50*time.Millisecond, func() {
					hosts, err := HostList(path)
					if err != nil {
						return
					}
					onChange(hosts)
				})
			case <-watcher.Errors:
				continue
			case <-stop:
				return
			}
		}
	}()
	return nil
}
