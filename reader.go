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

import "bytes"

// PageReader is a seekable random-access view over a
// fully decoded copy of one page. It owns its backing
// buffer, so it remains valid after the container that
// produced it is closed.
//
// It implements io.Reader, io.ReaderAt, io.Seeker,
// and io.ByteReader via the embedded bytes.Reader.
type PageReader struct {
	bytes.Reader
}

// OpenPage decodes the full payload of a page and
// returns an owning view over it. The view is empty
// if the page does not exist, has no payload, or
// cannot be decoded.
func (pf *PagedFile) OpenPage(id uint32) *PageReader {
	r := new(PageReader)
	length, uncompressed, ok := pf.hdr.PageLength(id)
	if !ok || length == 0 {
		return r
	}
	n := length
	if IsCompressed(pf.hdr.PageFormat(id)) {
		n = uncompressed
	}
	data := make([]byte, n)
	m, err := pf.ReadPage(id, data)
	if err != nil {
		return r
	}
	r.Reset(data[:m])
	return r
}
