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
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// container builds a minimal in-memory container image:
// the magic followed immediately by the trailer.
func container(h *Header) []byte {
	return append(put32(nil, Magic), h.marshal()...)
}

func TestHeaderRoundTrip(t *testing.T) {
	var h Header
	h.addPage(7, PageDesc{
		Format: KindFile | Plain,
		Start:  4,
		Length: 100,
		Name:   "plain/file.bin",
	})
	h.addPage(3, PageDesc{
		Format:             KindFile | LZ4Block,
		Start:              104,
		Length:             50,
		UncompressedLength: 1000,
		Name:               "packed",
	})
	h.addPage(1, PageDesc{
		Format: KindDirectory,
		Name:   "dir/",
	})
	h.addPage(9, PageDesc{
		Format:             KindFile | LZ4Frame,
		Start:              154,
		Length:             60,
		UncompressedLength: 5000,
		Name:               "", // nameless page
	})

	img := container(&h)
	var got Header
	tail, err := got.parse(bytes.NewReader(img), int64(len(img)))
	if err != nil {
		t.Fatalf("parse: %s", err)
	}
	if tail != 4 {
		t.Fatalf("tail %d, want 4", tail)
	}
	if !reflect.DeepEqual(h.order, got.order) {
		t.Fatalf("order %v, want %v", got.order, h.order)
	}
	if !reflect.DeepEqual(h.pages, got.pages) {
		t.Fatalf("pages %v, want %v", got.pages, h.pages)
	}
	// serializing the parsed table reproduces the bytes
	if !bytes.Equal(h.marshal(), got.marshal()) {
		t.Fatal("re-marshal differs")
	}
}

func TestHeaderParseErrors(t *testing.T) {
	var h Header
	h.addPage(1, PageDesc{Format: KindFile, Start: 4, Length: 8, Name: "x"})
	img := container(&h)

	cases := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"bad magic", func(b []byte) []byte {
			b[1] = 'x'
			return b
		}},
		{"too small", func(b []byte) []byte {
			return b[:8]
		}},
		{"zero back-pointer", func(b []byte) []byte {
			copy(b[len(b)-8:], make([]byte, 8))
			return b
		}},
		{"negative back-pointer", func(b []byte) []byte {
			copy(b[len(b)-8:], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
			return b
		}},
		{"back-pointer past start", func(b []byte) []byte {
			copy(b[len(b)-8:], put64(nil, uint64(len(b))))
			return b
		}},
		{"count overruns trailer", func(b []byte) []byte {
			// the trailer starts at offset 4; inflate num_pages
			copy(b[4:8], put32(nil, 1000))
			return b
		}},
		{"stray trailer bytes", func(b []byte) []byte {
			// splice a stray byte before the back-pointer
			// and grow the recorded trailer length over it
			n := len(b)
			tlen := uint64(n-8) - 4
			out := append(b[:n-8:n-8], 0)
			out = append(out, put64(nil, tlen+1)...)
			return out
		}},
	}
	for i := range cases {
		img2 := cases[i].mutate(append([]byte(nil), img...))
		var got Header
		_, err := got.parse(bytes.NewReader(img2), int64(len(img2)))
		if err == nil {
			t.Errorf("%s: parse succeeded", cases[i].name)
		}
		if got.NumPages() != 0 {
			t.Errorf("%s: table not empty after failed parse", cases[i].name)
		}
	}

	// duplicate page ids are rejected
	var dup Header
	dup.addPage(1, PageDesc{Format: KindFile, Start: 4, Length: 8})
	dup.addPage(2, PageDesc{Format: KindFile, Start: 12, Length: 8})
	dup.order[1] = 1
	img = container(&dup)
	var got Header
	if _, err := got.parse(bytes.NewReader(img), int64(len(img))); err == nil {
		t.Error("duplicate id: parse succeeded")
	}
}

func TestPagesWithPrefix(t *testing.T) {
	var h Header
	h.addPage(1, PageDesc{Format: KindDirectory, Name: "src/"})
	h.addPage(2, PageDesc{Format: KindFile, Name: "src/a.go"})
	h.addPage(3, PageDesc{Format: KindFile, Name: "doc/readme"})
	h.addPage(4, PageDesc{Format: KindFile, Name: "src/b.go"})

	got := h.PagesWithPrefix("src/")
	if len(got) != 3 {
		t.Fatalf("got %v", got)
	}
	for _, id := range got {
		if !strings.HasPrefix(h.PageName(id), "src/") {
			t.Fatalf("page %d name %q", id, h.PageName(id))
		}
	}
	// empty prefix matches everything, in insertion order
	all := h.PagesWithPrefix("")
	if !reflect.DeepEqual(all, h.ListPages()) {
		t.Fatalf("empty prefix: %v", all)
	}
	if got := h.PagesWithPrefix("nope"); len(got) != 0 {
		t.Fatalf("bogus prefix: %v", got)
	}
}

func TestHeaderNewMetaPage(t *testing.T) {
	var h Header
	if err := h.NewMetaPage(1, KindDirectory, "d/"); err != nil {
		t.Fatalf("meta: %s", err)
	}
	if err := h.NewMetaPage(1, KindSymLink, "other"); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate meta: %v", err)
	}
	desc, ok := h.Desc(1)
	if !ok || desc.Start != 0 || desc.Length != 0 || desc.UncompressedLength != 0 {
		t.Fatalf("meta desc %+v", desc)
	}
	if Kind(desc.Format) != KindDirectory {
		t.Fatalf("meta kind %#04x", desc.Format)
	}
}

func TestFormatHelpers(t *testing.T) {
	if IsCompressed(KindFile | Plain) {
		t.Error("plain flagged compressed")
	}
	for _, f := range []uint16{LZ4Block, LZ4Frame, Zstd} {
		if !IsCompressed(KindFile | f) {
			t.Errorf("%#04x not flagged compressed", f)
		}
	}
	if Kind(KindDirectory|LZ4Block) != KindDirectory {
		t.Error("kind extraction broken")
	}
}
