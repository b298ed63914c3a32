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
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec compresses and decompresses a sealed bucket's bytes for the
// archival tier, and names the file-extension its format is stored under.
type Codec interface {
	Compress(raw []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Extension() string
}

// LZ4Codec favours speed over ratio: the hot archival path, used when
// buckets are sealed frequently and the archiver must keep up with live
// write traffic.
type LZ4Codec struct{}

func (LZ4Codec) Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4Codec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

func (LZ4Codec) Extension() string { return ".lz4" }

// XZCodec favours ratio over speed: the cold path, used for buckets a
// caller has decided are unlikely to be fetched again soon.
type XZCodec struct{}

func (XZCodec) Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (XZCodec) Decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (XZCodec) Extension() string { return ".xz" }

// NoneCodec stores buckets uncompressed — useful for tests and for
// backends that compress transparently at a lower layer.
type NoneCodec struct{}

func (NoneCodec) Compress(raw []byte) ([]byte, error)    { return raw, nil }
func (NoneCodec) Decompress(data []byte) ([]byte, error) { return data, nil }
func (NoneCodec) Extension() string                      { return "" }
