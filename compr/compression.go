// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package compr provides a unified interface wrapping
// third-party compression libraries.
package compr

import (
	"bytes"
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/exp/slices"
)

// Compressor is the interface that the page-append
// path needs a compression algorithm to implement.
type Compressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Compress appends the compressed contents
	// of src to dst and returns the result.
	//
	// A result with no bytes appended and a nil
	// error means src is not compressible with
	// this algorithm; callers are expected to
	// store src verbatim instead.
	Compress(src, dst []byte) ([]byte, error)
}

// Decompressor is the interface that the page-read
// path uses to decompress page payloads.
type Decompressor interface {
	// Name is the name of the compression algorithm.
	// See also Compressor.Name.
	Name() string
	// Decompress decompresses source data
	// into dst. dst must be sized to exactly
	// the original decompressed length;
	// it is an error if src does not decode
	// to exactly len(dst) bytes.
	Decompress(src, dst []byte) error
}

type lz4BlockCompressor struct{}

func (lz4BlockCompressor) Name() string { return "lz4" }

func (lz4BlockCompressor) Compress(src, dst []byte) ([]byte, error) {
	base := len(dst)
	dst = slices.Grow(dst, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst[base:cap(dst)], nil)
	if err != nil {
		return nil, err
	}
	// with a bound-sized destination the library emits
	// a literal-only block rather than reporting n == 0;
	// an output no smaller than src is incompressible
	if n >= len(src) {
		n = 0
	}
	return dst[:base+n], nil
}

func (lz4BlockCompressor) Decompress(src, dst []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("expected %d bytes decompressed; got %d", len(dst), n)
	}
	return nil
}

type lz4FrameCompressor struct{}

func (lz4FrameCompressor) Name() string { return "lz4-frame" }

func (lz4FrameCompressor) Compress(src, dst []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	zw := lz4.NewWriter(buf)
	// record the content size in the frame header so
	// that decoders can allocate the output up front
	err := zw.Apply(lz4.SizeOption(uint64(len(src))))
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4FrameCompressor) Decompress(src, dst []byte) error {
	zr := lz4.NewReader(bytes.NewReader(src))
	n, err := io.ReadFull(zr, dst)
	if err != nil {
		return err
	}
	if n != len(dst) {
		return fmt.Errorf("expected %d bytes decompressed; got %d", len(dst), n)
	}
	// the frame should be fully drained
	var tail [1]byte
	if m, _ := zr.Read(tail[:]); m != 0 {
		return fmt.Errorf("trailing data after %d decompressed bytes", n)
	}
	return nil
}

type zstdCompressor struct {
	enc *zstd.Encoder
}

func (z zstdCompressor) Name() string { return "zstd" }

func (z zstdCompressor) Compress(src, dst []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, dst), nil
}

var zstdDecoder *zstd.Decoder

func init() {
	// by default, concurrency is set to min(4, GOMAXPROCS);
	// we'd like it to *always* be GOMAXPROCS
	z, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = z
}

type zstdDecompressor struct{}

func (zstdDecompressor) Name() string { return "zstd" }

func (zstdDecompressor) Decompress(src, dst []byte) error {
	into := dst[:0:len(dst)]
	ret, err := zstdDecoder.DecodeAll(src, into)
	if err != nil {
		return err
	}
	if len(ret) != len(dst) {
		return fmt.Errorf("expected %d bytes decompressed; got %d", len(dst), len(ret))
	}
	// the decoder should not have had to
	// realloc the buffer
	if &ret[0] != &dst[0] {
		return fmt.Errorf("zstd decompress: output buffer realloc'd")
	}
	return nil
}

// Compression selects a compression algorithm by name.
// The returned Compressor will return the same value
// for Compressor.Name as the specified name.
//
// Valid values are:
//
//	"lz4"
//	"lz4-frame"
//	"zstd"
func Compression(name string) Compressor {
	switch name {
	case "lz4":
		return lz4BlockCompressor{}
	case "lz4-frame":
		return lz4FrameCompressor{}
	case "zstd":
		z, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		return zstdCompressor{z}
	default:
		return nil
	}
}

// Decompression selects a decompression algorithm by name.
// See Compression for the accepted names.
func Decompression(name string) Decompressor {
	switch name {
	case "lz4":
		return lz4BlockCompressor{}
	case "lz4-frame":
		return lz4FrameCompressor{}
	case "zstd":
		return zstdDecompressor{}
	default:
		return nil
	}
}
