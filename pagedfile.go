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

// Package pagedfile implements a single-file container
// that stores an ordered collection of independently
// addressable, optionally compressed pages together
// with a self-describing trailer.
//
// A container starts with a 4-byte magic, followed by
// the concatenated page payloads, followed by the page
// table and a trailing back-pointer that locates it
// (see Header). Pages are appended either through the
// streaming NewPage/Write/EndNewPage protocol or the
// one-shot AppendPage, read back with ReadPage or
// OpenPage, and deleted with RemovePages, which
// compacts the surviving payloads in place.
package pagedfile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/shenfy/pagedfile/compr"
)

// Mode selects how Open accesses a container.
type Mode int32

const (
	// ReadOnly opens an existing container; mutations are rejected.
	ReadOnly Mode = iota
	// Create truncates (or creates) the file and starts an empty container.
	Create
	// ReadWrite opens an existing container for appending and deletion.
	ReadWrite
)

var (
	// ErrNotOpen is returned by operations on a closed container.
	ErrNotOpen = errors.New("pagedfile: container not open")
	// ErrReadOnly is returned by mutations on a read-only container.
	ErrReadOnly = errors.New("pagedfile: container is read-only")
	// ErrEditing is returned when an operation cannot run
	// while a streaming page write is in progress.
	ErrEditing = errors.New("pagedfile: page edit in progress")
	// ErrNoEdit is returned by Write and EndNewPage
	// when no streaming page write is in progress.
	ErrNoEdit = errors.New("pagedfile: no page edit in progress")
	// ErrExists is returned when a page id is already in use.
	ErrExists = errors.New("pagedfile: page id already in use")
	// ErrNoPage is returned when a page id is not present.
	ErrNoPage = errors.New("pagedfile: no such page")
	// ErrNoData is returned by GoToPage for pages
	// that do not carry a data payload.
	ErrNoData = errors.New("pagedfile: page has no data payload")
	// ErrFormat is returned when a page format carries
	// compression bits no codec is registered for.
	ErrFormat = errors.New("pagedfile: unrecognized compression format")
)

// lz4MaxBlockInput is the largest input the LZ4 block
// format can represent in a single block.
const lz4MaxBlockInput = 0x7e000000

// ChooseCompressionFormat picks a compression format
// for a payload of the given length: the LZ4 block
// format when the payload fits a single block, and
// the LZ4 frame format otherwise.
func ChooseCompressionFormat(length int64) uint16 {
	if length <= lz4MaxBlockInput {
		return LZ4Block
	}
	return LZ4Frame
}

func compressionName(format uint16) string {
	switch format & compMask {
	case LZ4Block:
		return "lz4"
	case LZ4Frame:
		return "lz4-frame"
	case Zstd:
		return "zstd"
	}
	return ""
}

// PagedFile is an open container. A PagedFile is owned
// by a single goroutine; it performs no locking.
type PagedFile struct {
	hdr  Header
	f    *os.File
	path string
	mode Mode

	// id of the page being written via the
	// streaming protocol, or -1 when idle
	editing int64

	// tailPos is the offset where payload data ends
	// and the trailer begins; oldTail is its value
	// at open time, used to detect shrinkage
	tailPos int64
	oldTail int64

	// scratch buffer for (de)compression
	comp []byte
}

// Open opens the container at path in the given mode.
//
// ReadOnly and ReadWrite parse the page table of an
// existing container and fail if it is malformed.
// Create truncates the file and writes a fresh magic.
func Open(path string, mode Mode) (*PagedFile, error) {
	var f *os.File
	var err error
	switch mode {
	case ReadOnly:
		f, err = os.Open(path)
	case Create:
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	case ReadWrite:
		f, err = os.OpenFile(path, os.O_RDWR, 0)
	default:
		return nil, fmt.Errorf("pagedfile: bad open mode %d", mode)
	}
	if err != nil {
		return nil, err
	}
	pf := &PagedFile{f: f, path: path, mode: mode, editing: -1}
	if mode == Create {
		if _, err := f.Write(put32(nil, Magic)); err != nil {
			f.Close()
			return nil, err
		}
		pf.tailPos = 4
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		tail, err := pf.hdr.parse(f, info.Size())
		if err != nil {
			f.Close()
			return nil, err
		}
		pf.tailPos = tail
	}
	pf.oldTail = pf.tailPos
	return pf, nil
}

// Close closes the container. When save is true and the
// container is writable, the page table is serialized at
// the current tail position first, and the file is
// truncated if the container shrank since it was opened.
// Closing an already-closed container is a no-op.
func (pf *PagedFile) Close(save bool) error {
	if pf.f == nil {
		return nil
	}
	if !save || pf.mode == ReadOnly {
		err := pf.f.Close()
		pf.f = nil
		pf.comp = nil
		return err
	}
	if pf.editing >= 0 {
		if err := pf.EndNewPage(); err != nil {
			pf.f.Close()
			pf.f = nil
			return err
		}
	}
	trailer := pf.hdr.marshal()
	_, werr := pf.f.WriteAt(trailer, pf.tailPos)
	length := pf.tailPos + int64(len(trailer))
	cerr := pf.f.Close()
	pf.f = nil
	pf.comp = nil
	if werr != nil {
		return werr
	}
	if cerr != nil {
		return cerr
	}
	// shrink after closing the handle to avoid
	// interactions with platform buffering
	if pf.tailPos < pf.oldTail {
		return os.Truncate(pf.path, length)
	}
	return nil
}

// Header exposes the page table for enumeration
// and descriptor queries.
func (pf *PagedFile) Header() *Header { return &pf.hdr }

// NewPage starts the streaming write of a new file page.
// Subsequent Write calls append payload bytes; EndNewPage
// finalizes the page. Only one page may be written at a
// time. The name may be empty.
func (pf *PagedFile) NewPage(id uint32, name string) error {
	if pf.f == nil {
		return ErrNotOpen
	}
	if pf.mode == ReadOnly {
		return ErrReadOnly
	}
	if pf.editing >= 0 {
		return ErrEditing
	}
	if len(name) > math.MaxUint16 {
		return ErrNameTooLong
	}
	if pf.hdr.Exists(id) {
		return ErrExists
	}
	if _, err := pf.f.Seek(pf.tailPos, io.SeekStart); err != nil {
		return err
	}
	pf.hdr.addPage(id, PageDesc{
		Format: KindFile | Plain,
		Start:  uint64(pf.tailPos),
		Name:   name,
	})
	pf.editing = int64(id)
	return nil
}

// Write appends payload bytes to the page being
// written. It is only valid between NewPage and
// EndNewPage.
func (pf *PagedFile) Write(p []byte) (int, error) {
	if pf.f == nil {
		return 0, ErrNotOpen
	}
	if pf.editing < 0 {
		return 0, ErrNoEdit
	}
	return pf.f.Write(p)
}

// EndNewPage finalizes the page being written:
// its length is computed from the current write
// offset and the payload tail advances past it.
func (pf *PagedFile) EndNewPage() error {
	if pf.f == nil {
		return ErrNotOpen
	}
	if pf.editing < 0 {
		return ErrNoEdit
	}
	cur, err := pf.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	id := uint32(pf.editing)
	desc := pf.hdr.pages[id]
	desc.Length = uint64(cur) - desc.Start
	pf.hdr.pages[id] = desc
	pf.tailPos = cur
	pf.editing = -1
	return nil
}

// abandonPage rolls back a page started by NewPage
// after a payload write failed, so that no partial
// descriptor survives in the table.
func (pf *PagedFile) abandonPage(id uint32) {
	delete(pf.hdr.pages, id)
	if n := len(pf.hdr.order); n > 0 && pf.hdr.order[n-1] == id {
		pf.hdr.order = pf.hdr.order[:n-1]
	}
	pf.editing = -1
}

// AppendPage writes a complete page in one call.
//
// If format requests compression, the payload is
// compressed first; when compression does not make
// the payload strictly smaller, the compression bits
// are cleared and the payload is stored verbatim.
// Reading the page back always yields the original
// bytes either way.
func (pf *PagedFile) AppendPage(id uint32, name string, format uint16, p []byte) error {
	if pf.f == nil {
		return ErrNotOpen
	}
	if pf.mode == ReadOnly {
		return ErrReadOnly
	}
	if pf.editing >= 0 {
		return ErrEditing
	}
	var compressed []byte
	if IsCompressed(format) {
		comp := compr.Compression(compressionName(format))
		if comp == nil {
			return fmt.Errorf("%w %#04x", ErrFormat, format)
		}
		out, err := comp.Compress(p, pf.comp[:0])
		if err != nil {
			return fmt.Errorf("pagedfile: compressing page %d: %w", id, err)
		}
		if cap(out) > cap(pf.comp) {
			pf.comp = out
		}
		if len(out) == 0 || len(out) >= len(p) {
			format &^= compMask
		} else {
			compressed = out
		}
	}
	if err := pf.NewPage(id, name); err != nil {
		return err
	}
	desc := pf.hdr.pages[id]
	desc.Format = format
	var werr error
	if IsCompressed(format) {
		desc.UncompressedLength = uint64(len(p))
		_, werr = pf.f.Write(compressed)
	} else {
		_, werr = pf.f.Write(p)
	}
	if werr != nil {
		pf.abandonPage(id)
		return werr
	}
	pf.hdr.pages[id] = desc
	return pf.EndNewPage()
}

// NewMetaPage inserts a zero-payload page recording
// filesystem structure (a directory or link).
func (pf *PagedFile) NewMetaPage(id uint32, format uint16, name string) error {
	if pf.f == nil {
		return ErrNotOpen
	}
	if pf.mode == ReadOnly {
		return ErrReadOnly
	}
	if pf.editing >= 0 {
		return ErrEditing
	}
	return pf.hdr.NewMetaPage(id, format, name)
}

// scratch returns the reusable work buffer,
// grown to at least n bytes.
func (pf *PagedFile) scratch(n uint64) []byte {
	if uint64(cap(pf.comp)) < n {
		pf.comp = make([]byte, n)
	}
	return pf.comp[:n]
}

// ReadPage copies the full payload of a page into dst,
// transparently decompressing it, and returns the
// number of bytes produced. dst must hold the page's
// uncompressed length (its on-disk length for plain
// pages); otherwise io.ErrShortBuffer is returned and
// nothing is written.
func (pf *PagedFile) ReadPage(id uint32, dst []byte) (int, error) {
	if pf.f == nil {
		return 0, ErrNotOpen
	}
	if pf.editing >= 0 {
		return 0, ErrEditing
	}
	desc, ok := pf.hdr.Desc(id)
	if !ok {
		return 0, ErrNoPage
	}
	if !IsCompressed(desc.Format) {
		if uint64(len(dst)) < desc.Length {
			return 0, io.ErrShortBuffer
		}
		return pf.f.ReadAt(dst[:desc.Length], int64(desc.Start))
	}
	if uint64(len(dst)) < desc.UncompressedLength {
		return 0, io.ErrShortBuffer
	}
	dec := compr.Decompression(compressionName(desc.Format))
	if dec == nil {
		return 0, fmt.Errorf("%w %#04x", ErrFormat, desc.Format)
	}
	src := pf.scratch(desc.Length)
	if _, err := pf.f.ReadAt(src, int64(desc.Start)); err != nil {
		return 0, err
	}
	out := dst[:desc.UncompressedLength]
	if err := dec.Decompress(src, out); err != nil {
		return 0, fmt.Errorf("pagedfile: decompressing page %d: %w", id, err)
	}
	return len(out), nil
}

// GoToPage positions the file cursor at the start of
// a file page's payload for subsequent Read calls.
func (pf *PagedFile) GoToPage(id uint32) error {
	if pf.f == nil {
		return ErrNotOpen
	}
	if pf.editing >= 0 {
		return ErrEditing
	}
	desc, ok := pf.hdr.Desc(id)
	if !ok {
		return ErrNoPage
	}
	if Kind(desc.Format) != KindFile {
		return ErrNoData
	}
	_, err := pf.f.Seek(int64(desc.Start), io.SeekStart)
	return err
}

// Read reads raw payload bytes from the current cursor
// position. It is only meaningful between GoToPage and
// the next state-changing call, and it does not
// decompress.
func (pf *PagedFile) Read(p []byte) (int, error) {
	if pf.f == nil {
		return 0, ErrNotOpen
	}
	if pf.editing >= 0 {
		return 0, ErrEditing
	}
	return pf.f.Read(p)
}

// RemovePages deletes the file pages named in ids and
// compacts the survivors in a single forward pass over
// the insertion order: each surviving payload after the
// first deleted page is relocated over the hole, so
// relative order and contents are preserved while the
// container shrinks. Meta pages (directories, links)
// are never deleted or relocated; requested ids that
// were not deleted (meta pages and absent ids) are
// returned in skipped.
//
// The new table is committed to disk by the next
// Close(true).
func (pf *PagedFile) RemovePages(ids []uint32) (skipped []uint32, err error) {
	if pf.f == nil {
		return nil, ErrNotOpen
	}
	if pf.mode == ReadOnly {
		return nil, ErrReadOnly
	}
	if pf.editing >= 0 {
		return nil, ErrEditing
	}
	del := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		del[id] = true
	}
	var (
		moveDst uint64
		moving  bool
		buf     []byte
	)
	removed := make(map[uint32]bool, len(ids))
	order := pf.hdr.order
	newOrder := make([]uint32, 0, len(order))
	for i, id := range order {
		desc := pf.hdr.pages[id]
		if Kind(desc.Format) != KindFile {
			newOrder = append(newOrder, id)
			continue
		}
		if del[id] {
			delete(pf.hdr.pages, id)
			removed[id] = true
			if !moving {
				moveDst = desc.Start
				moving = true
			}
			continue
		}
		if moving {
			n := desc.Length
			if uint64(len(buf)) < n {
				buf = make([]byte, n)
			}
			// the destination never overtakes the source,
			// so a read-then-write through the scratch
			// buffer is safe for overlapping regions
			if _, err := pf.f.ReadAt(buf[:n], int64(desc.Start)); err != nil {
				pf.hdr.order = append(newOrder, order[i:]...)
				return skippedIDs(ids, removed), err
			}
			if _, err := pf.f.WriteAt(buf[:n], int64(moveDst)); err != nil {
				pf.hdr.order = append(newOrder, order[i:]...)
				return skippedIDs(ids, removed), err
			}
			desc.Start = moveDst
			pf.hdr.pages[id] = desc
			moveDst += n
		}
		newOrder = append(newOrder, id)
	}
	pf.hdr.order = newOrder
	if moving {
		pf.tailPos = int64(moveDst)
	}
	return skippedIDs(ids, removed), nil
}

// skippedIDs returns the requested ids that were not
// deleted, deduplicated, in request order.
func skippedIDs(ids []uint32, removed map[uint32]bool) []uint32 {
	var out []uint32
	seen := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		if !removed[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
