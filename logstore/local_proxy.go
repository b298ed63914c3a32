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
package logstore

// LocalProxy satisfies Proxy by calling straight into an in-process Shard.
// Send and recv collapse to a single synchronous call; the Call handle
// exists purely so callers that mix local and remote shards (a routing
// layer spanning both) see one uniform interface.
type LocalProxy struct {
	Shard *Shard
}

func NewLocalProxy(s *Shard) *LocalProxy {
	return &LocalProxy{Shard: s}
}

func (p *LocalProxy) SendAppend(payload []byte) *Call[uint64] {
	c := newCall[uint64]()
	id, err := p.Shard.Append(payload)
	c.complete(id, err)
	return c
}

func (p *LocalProxy) SendMultiAppend(payloads [][]byte) *Call[[]uint64] {
	c := newCall[[]uint64]()
	ids, err := p.Shard.MultiAppend(payloads)
	c.complete(ids, err)
	return c
}

func (p *LocalProxy) SendGet(id, minSnapshot uint64) *Call[[]byte] {
	c := newCall[[]byte]()
	v, err := p.Shard.Get(id, minSnapshot)
	c.complete(v, err)
	return c
}

func (p *LocalProxy) SendUpdate(id uint64, payload []byte) *Call[struct{}] {
	c := newCall[struct{}]()
	err := p.Shard.Update(id, payload)
	c.complete(struct{}{}, err)
	return c
}

func (p *LocalProxy) SendInvalidate(id uint64) *Call[struct{}] {
	c := newCall[struct{}]()
	err := p.Shard.Invalidate(id)
	c.complete(struct{}{}, err)
	return c
}

func (p *LocalProxy) SendBeginSnapshot() *Call[uint64] {
	c := newCall[uint64]()
	c.complete(p.Shard.BeginSnapshot(), nil)
	return c
}

func (p *LocalProxy) SendEndSnapshot(tail uint64) *Call[struct{}] {
	c := newCall[struct{}]()
	err := p.Shard.EndSnapshot(tail)
	c.complete(struct{}{}, err)
	return c
}

func (p *LocalProxy) SendNumRecords() *Call[uint64] {
	c := newCall[uint64]()
	c.complete(p.Shard.NumRecords(), nil)
	return c
}
