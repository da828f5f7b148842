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
	"os"
	"path/filepath"
	"strings"

	"github.com/shenfy/pagedfile"
)

// outputPath resolves an archive entry name below the
// output directory, refusing names that would escape it.
func outputPath(base, name string) (string, bool) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", false
	}
	return filepath.Join(base, clean), true
}

func extract(args []string) {
	var (
		dasho string
		dashp string
		dashv bool
	)
	flags := flag.NewFlagSet(args[0], flag.ExitOnError)
	flags.StringVar(&dasho, "o", ".", "output directory")
	flags.StringVar(&dashp, "p", "", "only extract entries with this name prefix")
	flags.BoolVar(&dashv, "v", false, "print each entry")
	flags.Parse(args[1:])
	args = flags.Args()
	if len(args) != 1 {
		exitf("extract takes exactly one archive")
	}

	if err := os.MkdirAll(dasho, 0755); err != nil {
		exitf("creating output directory: %s", err)
	}

	pf := openArchive(args[0], pagedfile.ReadOnly)
	defer pf.Close(false)
	hdr := pf.Header()
	ids := hdr.PagesWithPrefix(dashp)

	// create all directories before extracting files
	for _, id := range ids {
		if pagedfile.Kind(hdr.PageFormat(id)) != pagedfile.KindDirectory {
			continue
		}
		dir, ok := outputPath(dasho, hdr.PageName(id))
		if !ok {
			logf("skipping unsafe path %q", hdr.PageName(id))
			continue
		}
		if dashv {
			logf("folder: %s", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			exitf("%s", err)
		}
	}

	var buf []byte
	for _, id := range ids {
		if pagedfile.Kind(hdr.PageFormat(id)) != pagedfile.KindFile {
			continue
		}
		out, ok := outputPath(dasho, hdr.PageName(id))
		if !ok {
			logf("skipping unsafe path %q", hdr.PageName(id))
			continue
		}
		length, uncompressed, _ := hdr.PageLength(id)
		need := length
		if uncompressed > need {
			need = uncompressed
		}
		if uint64(len(buf)) < need {
			buf = make([]byte, need)
		}
		n, err := pf.ReadPage(id, buf[:need])
		if err != nil {
			exitf("reading page %d (%s): %s", id, hdr.PageName(id), err)
		}
		if dashv {
			logf("extract file: %s", out)
		}
		if err := os.WriteFile(out, buf[:n], 0644); err != nil {
			exitf("%s", err)
		}
	}
}

func init() {
	addApplet(applet{
		name: "extract",
		help: "[-o dir] [-p prefix] [-v] <archive>",
		desc: `extract archive contents into a directory`,
		run: func(args []string) bool {
			if len(args) < 2 {
				return false
			}
			extract(args)
			return true
		},
	})
}
