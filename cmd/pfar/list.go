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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/shenfy/pagedfile"
	"sigs.k8s.io/yaml"
)

var kindNames = map[uint16]string{
	pagedfile.KindFile:      "file",
	pagedfile.KindDirectory: "dir",
	pagedfile.KindSymLink:   "symlink",
	pagedfile.KindHardLink:  "hardlink",
}

// listEntry is the per-page record emitted by list -yaml.
type listEntry struct {
	ID                 uint32 `json:"id"`
	Name               string `json:"name,omitempty"`
	Kind               string `json:"kind"`
	Compression        string `json:"compression,omitempty"`
	Length             uint64 `json:"length,omitempty"`
	UncompressedLength uint64 `json:"uncompressed_length,omitempty"`
	Offset             uint64 `json:"offset,omitempty"`
}

func compressionLabel(format uint16) string {
	switch format & 0xff00 {
	case pagedfile.Plain:
		return ""
	case pagedfile.LZ4Block:
		return "lz4"
	case pagedfile.LZ4Frame:
		return "lz4-frame"
	case pagedfile.Zstd:
		return "zstd"
	}
	return fmt.Sprintf("unknown (%#04x)", format&0xff00)
}

func listYAML(hdr *pagedfile.Header, ids []uint32) {
	entries := make([]listEntry, 0, len(ids))
	for _, id := range ids {
		desc, _ := hdr.Desc(id)
		entries = append(entries, listEntry{
			ID:                 id,
			Name:               desc.Name,
			Kind:               kindNames[pagedfile.Kind(desc.Format)],
			Compression:        compressionLabel(desc.Format),
			Length:             desc.Length,
			UncompressedLength: desc.UncompressedLength,
			Offset:             desc.Start,
		})
	}
	buf, err := yaml.Marshal(entries)
	if err != nil {
		exitf("%s", err)
	}
	os.Stdout.Write(buf)
}

func list(args []string) {
	var (
		dashp    string
		dashyaml bool
	)
	flags := flag.NewFlagSet(args[0], flag.ExitOnError)
	flags.StringVar(&dashp, "p", "", "only list entries with this name prefix")
	flags.BoolVar(&dashyaml, "yaml", false, "dump the page table as yaml")
	flags.Parse(args[1:])
	args = flags.Args()
	if len(args) != 1 {
		exitf("list takes exactly one archive")
	}

	pf := openArchive(args[0], pagedfile.ReadOnly)
	defer pf.Close(false)
	hdr := pf.Header()
	ids := hdr.PagesWithPrefix(dashp)

	if dashyaml {
		listYAML(hdr, ids)
		return
	}
	for _, id := range ids {
		fmt.Print(hdr.PageName(id))
		format := hdr.PageFormat(id)
		switch pagedfile.Kind(format) {
		case pagedfile.KindDirectory:
			fmt.Print(" [dir]")
		case pagedfile.KindFile:
			length, uncompressed, _ := hdr.PageLength(id)
			fmt.Printf("\t(%d", length)
			if pagedfile.IsCompressed(format) && uncompressed != 0 {
				fmt.Printf("/%d %d%%", uncompressed, 100*length/uncompressed)
			}
			fmt.Print(")")
		}
		fmt.Println()
	}
}

func init() {
	addApplet(applet{
		name: "list",
		help: "[-p prefix] [-yaml] <archive>",
		desc: `list the entries in an archive`,
		run: func(args []string) bool {
			if len(args) < 2 {
				return false
			}
			list(args)
			return true
		},
	})
}
