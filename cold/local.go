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
	"os"
	"path/filepath"
)

// LocalBackend stores archived buckets as plain files under Root, the
// fallback backend when no object store is configured.
type LocalBackend struct {
	Root string
}

func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{Root: root}
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.Root, filepath.FromSlash(key))
}

func (b *LocalBackend) Write(ctx context.Context, key string, data []byte) error {
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0640)
}

func (b *LocalBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *LocalBackend) Remove(ctx context.Context, key string) error {
	err := os.Remove(b.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
