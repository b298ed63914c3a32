//go:build !ceph

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

import "context"

// CephBackend is a stub: Ceph support is gated behind the ceph build tag
// since github.com/ceph/go-ceph/rados requires librados headers at build
// time, which aren't available in every build environment.
type CephBackend struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

func NewCephBackend(pool, prefix string) *CephBackend {
	return &CephBackend{Pool: pool, Prefix: prefix}
}

func (b *CephBackend) Write(ctx context.Context, key string, data []byte) error {
	panic("cold: Ceph support not compiled in. Build with: go build -tags=ceph")
}

func (b *CephBackend) Read(ctx context.Context, key string) ([]byte, error) {
	panic("cold: Ceph support not compiled in. Build with: go build -tags=ceph")
}

func (b *CephBackend) Remove(ctx context.Context, key string) error {
	panic("cold: Ceph support not compiled in. Build with: go build -tags=ceph")
}
