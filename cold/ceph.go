//go:build ceph

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

package cold

import (
	"context"
	"fmt"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephBackend stores archived buckets as RADOS objects in Pool, named
// Prefix/key. Each archived bucket is one immutable object — no segment or
// manifest bookkeeping, unlike the append-log layout the core storage
// engine would need over RADOS.
type CephBackend struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string

	mu    sync.Mutex
	conn  *rados.Conn
	ioctx *rados.IOContext
}

func NewCephBackend(pool, prefix string) *CephBackend {
	return &CephBackend{Pool: pool, Prefix: prefix}
}

func (b *CephBackend) ensureOpen() (*rados.IOContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ioctx != nil {
		return b.ioctx, nil
	}

	var conn *rados.Conn
	var err error
	if b.UserName != "" {
		conn, err = rados.NewConnWithUser(b.UserName)
	} else {
		conn, err = rados.NewConn()
	}
	if err != nil {
		return nil, fmt.Errorf("cold: rados conn: %w", err)
	}
	if b.ConfFile != "" {
		if err := conn.ReadConfigFile(b.ConfFile); err != nil {
			return nil, fmt.Errorf("cold: rados read config: %w", err)
		}
	} else if err := conn.ReadDefaultConfigFile(); err != nil {
		return nil, fmt.Errorf("cold: rados read default config: %w", err)
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("cold: rados connect: %w", err)
	}

	ioctx, err := conn.OpenIOContext(b.Pool)
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("cold: rados open pool %q: %w", b.Pool, err)
	}

	b.conn = conn
	b.ioctx = ioctx
	return ioctx, nil
}

func (b *CephBackend) objectName(key string) string {
	if b.Prefix == "" {
		return key
	}
	return b.Prefix + "/" + key
}

func (b *CephBackend) Write(ctx context.Context, key string, data []byte) error {
	ioctx, err := b.ensureOpen()
	if err != nil {
		return err
	}
	return ioctx.WriteFull(b.objectName(key), data)
}

func (b *CephBackend) Read(ctx context.Context, key string) ([]byte, error) {
	ioctx, err := b.ensureOpen()
	if err != nil {
		return nil, err
	}
	stat, err := ioctx.Stat(b.objectName(key))
	if err != nil {
		return nil, ErrNotFound
	}
	buf := make([]byte, stat.Size)
	n, err := ioctx.Read(b.objectName(key), buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (b *CephBackend) Remove(ctx context.Context, key string) error {
	ioctx, err := b.ensureOpen()
	if err != nil {
		return err
	}
	err = ioctx.Delete(b.objectName(key))
	if err == rados.ErrNotFound {
		return nil
	}
	return err
}
