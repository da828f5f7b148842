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

package pagedfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

// Magic is the first four bytes of every paged
// archive, the string "PFAR" as a little-endian
// 32-bit integer.
const Magic uint32 = 0x52414650

// Page kinds, stored in the low byte of a page format.
const (
	KindFile      uint16 = 0x00
	KindDirectory uint16 = 0x01
	KindSymLink   uint16 = 0x02
	KindHardLink  uint16 = 0x03
)

// Compression formats, stored in the high byte
// of a page format. Any nonzero high byte means
// the page payload is compressed.
const (
	Plain    uint16 = 0x0000
	LZ4Block uint16 = 0x0100
	LZ4Frame uint16 = 0x0200
	Zstd     uint16 = 0x0300
)

const (
	kindMask = 0x00ff
	compMask = 0xff00
)

// Kind extracts the page kind from a page format.
func Kind(format uint16) uint16 { return format & kindMask }

// IsCompressed indicates whether a page format
// has any compression bits set.
func IsCompressed(format uint16) bool { return format&compMask != 0 }

// ErrNameTooLong is returned when a page name
// does not fit the 16-bit length prefix of the
// on-disk page table.
var ErrNameTooLong = errors.New("pagedfile: page name too long")

// PageDesc describes one page in a container.
type PageDesc struct {
	// Format is the page kind in the low byte
	// plus the compression format in the high byte.
	Format uint16
	// Start is the byte offset of the page payload
	// within the container. Zero for non-file kinds.
	Start uint64
	// Length is the on-disk payload length
	// (post-compression if the page is compressed).
	// Zero for non-file kinds.
	Length uint64
	// UncompressedLength is the original payload
	// length. It is only serialized for pages
	// whose format indicates compression.
	UncompressedLength uint64
	// Name is an arbitrary label of up to 65535
	// bytes. File and directory pages conventionally
	// carry a forward-slash relative path.
	Name string
}

// Header is the page table of a container:
// a mapping from page id to descriptor plus
// the page insertion order. The insertion order
// is the canonical enumeration order and is
// preserved across serialization.
type Header struct {
	pages map[uint32]PageDesc
	order []uint32
}

func (h *Header) reset() {
	h.pages = nil
	h.order = nil
}

// NumPages returns the number of pages in the table.
func (h *Header) NumPages() int { return len(h.order) }

// Exists indicates whether a page with the
// given id is present in the table.
func (h *Header) Exists(id uint32) bool {
	_, ok := h.pages[id]
	return ok
}

// Desc returns a copy of the descriptor for the
// given page id, plus whether the page exists.
func (h *Header) Desc(id uint32) (PageDesc, bool) {
	d, ok := h.pages[id]
	return d, ok
}

// PageName returns the name of the given page,
// or the empty string if the page does not exist.
func (h *Header) PageName(id uint32) string {
	return h.pages[id].Name
}

// PageFormat returns the format of the given page,
// or zero if the page does not exist.
func (h *Header) PageFormat(id uint32) uint16 {
	return h.pages[id].Format
}

// PageLength returns the on-disk and uncompressed
// payload lengths of the given page.
func (h *Header) PageLength(id uint32) (length, uncompressed uint64, ok bool) {
	d, ok := h.pages[id]
	return d.Length, d.UncompressedLength, ok
}

// PageOffset returns the payload offset of the given page.
func (h *Header) PageOffset(id uint32) (uint64, bool) {
	d, ok := h.pages[id]
	return d.Start, ok
}

// ListPages returns all page ids in insertion order.
func (h *Header) ListPages() []uint32 {
	return slices.Clone(h.order)
}

// PagesWithPrefix returns the ids of the pages whose
// name begins with prefix. An empty prefix matches
// every page.
func (h *Header) PagesWithPrefix(prefix string) []uint32 {
	if prefix == "" {
		return h.ListPages()
	}
	var out []uint32
	for _, id := range h.order {
		if strings.HasPrefix(h.pages[id].Name, prefix) {
			out = append(out, id)
		}
	}
	return out
}

// NewMetaPage inserts a zero-payload page
// (a directory or link marker) into the table.
// It fails if a page with the same id exists.
func (h *Header) NewMetaPage(id uint32, format uint16, name string) error {
	if len(name) > math.MaxUint16 {
		return ErrNameTooLong
	}
	if h.Exists(id) {
		return ErrExists
	}
	h.addPage(id, PageDesc{Format: format, Name: name})
	return nil
}

func (h *Header) addPage(id uint32, desc PageDesc) {
	if h.pages == nil {
		h.pages = make(map[uint32]PageDesc)
	}
	h.pages[id] = desc
	h.order = append(h.order, id)
}

// On-disk trailer layout (all integers little-endian):
//
//	num_pages  uint32
//	per page, in insertion order:
//	  id                  uint32
//	  start               uint64
//	  length              uint64
//	  format              uint16
//	  uncompressed_length uint64  (only if compressed)
//	  name_length         uint16
//	  name                name_length bytes
//	trailer_length int64 (everything above)

func put16(dst []byte, v uint16) []byte {
	return append(dst, uint8(v), uint8(v>>8))
}

func put32(dst []byte, v uint32) []byte {
	return append(dst, uint8(v), uint8(v>>8), uint8(v>>16), uint8(v>>24))
}

func put64(dst []byte, v uint64) []byte {
	return append(dst,
		uint8(v), uint8(v>>8), uint8(v>>16), uint8(v>>24),
		uint8(v>>32), uint8(v>>40), uint8(v>>48), uint8(v>>56))
}

// marshal encodes the trailer, including the
// trailing length back-pointer. Encoding the
// same table twice produces identical bytes.
func (h *Header) marshal() []byte {
	buf := put32(nil, uint32(len(h.order)))
	for _, id := range h.order {
		desc := h.pages[id]
		buf = put32(buf, id)
		buf = put64(buf, desc.Start)
		buf = put64(buf, desc.Length)
		buf = put16(buf, desc.Format)
		if IsCompressed(desc.Format) {
			buf = put64(buf, desc.UncompressedLength)
		}
		buf = put16(buf, uint16(len(desc.Name)))
		buf = append(buf, desc.Name...)
	}
	return put64(buf, uint64(len(buf)))
}

// readerAt is the subset of a random-access file
// the trailer parser needs.
type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// parse reads the trailer from a container of the
// given size and rebuilds the page table. It returns
// the offset at which the trailer begins. On error
// the table is left empty.
func (h *Header) parse(src readerAt, size int64) (int64, error) {
	h.reset()
	if size < 12 {
		return 0, fmt.Errorf("pagedfile: %d bytes too small to be a container", size)
	}
	var quad [8]byte
	if _, err := src.ReadAt(quad[:4], 0); err != nil {
		return 0, err
	}
	if magic := binary.LittleEndian.Uint32(quad[:4]); magic != Magic {
		return 0, fmt.Errorf("pagedfile: bad magic %#08x", magic)
	}
	if _, err := src.ReadAt(quad[:8], size-8); err != nil {
		return 0, err
	}
	tlen := int64(binary.LittleEndian.Uint64(quad[:8]))
	if tlen < 4 || tlen > size-8-4 {
		return 0, fmt.Errorf("pagedfile: bad trailer length %d", tlen)
	}
	tail := size - 8 - tlen
	buf := make([]byte, tlen)
	if _, err := src.ReadAt(buf, tail); err != nil {
		return 0, err
	}

	num := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	pages := make(map[uint32]PageDesc, num)
	order := make([]uint32, 0, num)
	for i := uint32(0); i < num; i++ {
		if len(buf) < 4+8+8+2 {
			return 0, fmt.Errorf("pagedfile: truncated descriptor %d", i)
		}
		id := binary.LittleEndian.Uint32(buf)
		var desc PageDesc
		desc.Start = binary.LittleEndian.Uint64(buf[4:])
		desc.Length = binary.LittleEndian.Uint64(buf[12:])
		desc.Format = binary.LittleEndian.Uint16(buf[20:])
		buf = buf[22:]
		if IsCompressed(desc.Format) {
			if len(buf) < 8 {
				return 0, fmt.Errorf("pagedfile: truncated descriptor %d", i)
			}
			desc.UncompressedLength = binary.LittleEndian.Uint64(buf)
			buf = buf[8:]
		}
		if len(buf) < 2 {
			return 0, fmt.Errorf("pagedfile: truncated descriptor %d", i)
		}
		namelen := int(binary.LittleEndian.Uint16(buf))
		buf = buf[2:]
		if len(buf) < namelen {
			return 0, fmt.Errorf("pagedfile: truncated name in descriptor %d", i)
		}
		desc.Name = string(buf[:namelen])
		buf = buf[namelen:]
		if _, ok := pages[id]; ok {
			return 0, fmt.Errorf("pagedfile: duplicate page id %d", id)
		}
		pages[id] = desc
		order = append(order, id)
	}
	if len(buf) != 0 {
		return 0, fmt.Errorf("pagedfile: %d stray bytes after page table", len(buf))
	}
	h.pages = pages
	h.order = order
	return tail, nil
}
