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
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/shenfy/pagedfile"
	"github.com/shenfy/pagedfile/fsutil"
)

type fileEntry struct {
	abs  string // path on the local filesystem
	rel  string // slash-normalized name inside the archive
	kind uint16
}

// collect expands one command-line argument into
// archive entries. A file becomes a single entry named
// after its base name; a directory becomes a directory
// entry, plus all of its contents when recurse is set.
func collect(arg string, recurse bool, dst []fileEntry) []fileEntry {
	info, err := os.Stat(arg)
	if err != nil {
		logf("%s not found, skipping", arg)
		return dst
	}
	if !info.IsDir() {
		return append(dst, fileEntry{
			abs:  arg,
			rel:  filepath.Base(arg),
			kind: pagedfile.KindFile,
		})
	}
	base := filepath.Dir(filepath.Clean(arg))
	if !recurse {
		rel, err := filepath.Rel(base, filepath.Clean(arg))
		if err != nil {
			exitf("%s", err)
		}
		return append(dst, fileEntry{
			abs:  arg,
			rel:  filepath.ToSlash(rel),
			kind: pagedfile.KindDirectory,
		})
	}
	err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		kind := pagedfile.KindFile
		if d.IsDir() {
			kind = pagedfile.KindDirectory
		}
		dst = append(dst, fileEntry{
			abs:  p,
			rel:  filepath.ToSlash(rel),
			kind: kind,
		})
		return nil
	})
	if err != nil {
		exitf("walking %s: %s", arg, err)
	}
	return dst
}

// compression format for one file, honoring -c
// and falling back to a size-based choice for -z
func packFormat(algo string, size int64) uint16 {
	switch algo {
	case "", "auto":
		return pagedfile.ChooseCompressionFormat(size)
	case "none":
		return pagedfile.Plain
	case "lz4":
		return pagedfile.LZ4Block
	case "lz4-frame":
		return pagedfile.LZ4Frame
	case "zstd":
		return pagedfile.Zstd
	}
	exitf("unknown compression algorithm %q", algo)
	return 0
}

func addFile(pf *pagedfile.PagedFile, id uint32, entry fileEntry, compress bool, algo string, verbose bool) {
	buf, err := os.ReadFile(entry.abs)
	if err != nil {
		logf("%s: %s, skipping", entry.abs, err)
		return
	}
	if !compress {
		if err := pf.NewPage(id, entry.rel); err != nil {
			exitf("adding %s: %s", entry.rel, err)
		}
		if _, err := pf.Write(buf); err != nil {
			exitf("writing %s: %s", entry.rel, err)
		}
		if err := pf.EndNewPage(); err != nil {
			exitf("finishing %s: %s", entry.rel, err)
		}
		if verbose {
			logf("%s", entry.abs)
		}
		return
	}
	format := packFormat(algo, int64(len(buf))) | pagedfile.KindFile
	if err := pf.AppendPage(id, entry.rel, format, buf); err != nil {
		exitf("adding %s: %s", entry.rel, err)
	}
	if verbose {
		length, uncompressed, _ := pf.Header().PageLength(id)
		if uncompressed != 0 {
			logf("%s [%d%%]", entry.abs, 100*length/uncompressed)
		} else {
			logf("%s", entry.abs)
		}
	}
}

func pack(args []string) {
	var (
		dashz bool
		dashc string
		dashr bool
		dashm string
		dashv bool
	)
	flags := flag.NewFlagSet(args[0], flag.ExitOnError)
	flags.BoolVar(&dashz, "z", false, "compress page contents")
	flags.StringVar(&dashc, "c", "", "compression algorithm (lz4, lz4-frame, zstd; default chosen by size)")
	flags.BoolVar(&dashr, "r", false, "recursively add files in subdirectories")
	flags.StringVar(&dashm, "m", "", "pack manifest (json or yaml)")
	flags.BoolVar(&dashv, "v", false, "print each entry")
	flags.Parse(args[1:])
	args = flags.Args()
	if len(args) == 0 {
		exitf("missing archive name")
	}
	archive := args[0]
	if dashc != "" {
		dashz = true
	}

	var entries []fileEntry
	if dashm != "" {
		entries = manifestEntries(dashm)
	}
	for _, arg := range args[1:] {
		entries = collect(arg, dashr, entries)
	}
	if len(entries) == 0 {
		exitf("no input files")
	}

	// appending to an existing archive keeps it in
	// place; a fresh archive is built under a unique
	// temp name and renamed into place on success
	target := archive
	mode := pagedfile.ReadWrite
	if !fsutil.Exists(archive) {
		target = archive + ".tmp-" + uuid.NewString()
		mode = pagedfile.Create
	}
	pf := openArchive(target, mode)

	// continue numbering after the largest existing id
	var shift uint32
	for _, id := range pf.Header().ListPages() {
		if id >= shift {
			shift = id + 1
		}
	}
	for i, entry := range entries {
		id := shift + uint32(i)
		if entry.kind == pagedfile.KindDirectory {
			if dashv {
				logf("%s [dir]", entry.abs)
			}
			if err := pf.NewMetaPage(id, pagedfile.KindDirectory, entry.rel); err != nil {
				exitf("adding %s: %s", entry.rel, err)
			}
			continue
		}
		addFile(pf, id, entry, dashz, dashc, dashv)
	}
	if err := pf.Close(true); err != nil {
		exitf("closing %s: %s", target, err)
	}
	if target != archive {
		if err := os.Rename(target, archive); err != nil {
			exitf("renaming %s: %s", target, err)
		}
	}
}

func init() {
	addApplet(applet{
		name: "pack",
		help: "[-z] [-c algo] [-r] [-v] [-m manifest] <archive> [file|dir ...]",
		desc: `pack files and directories into an archive`,
		run: func(args []string) bool {
			if len(args) < 2 {
				return false
			}
			pack(args)
			return true
		},
	})
}
