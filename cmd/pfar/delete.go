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

	"github.com/shenfy/pagedfile"
)

func deletePages(args []string) {
	var dashv bool
	flags := flag.NewFlagSet(args[0], flag.ExitOnError)
	flags.BoolVar(&dashv, "v", false, "print deleted entries")
	flags.Parse(args[1:])
	args = flags.Args()
	if len(args) < 2 {
		exitf("delete takes an archive and at least one entry name")
	}

	names := make(map[string]bool, len(args)-1)
	for _, name := range args[1:] {
		names[name] = true
	}

	pf := openArchive(args[0], pagedfile.ReadWrite)
	hdr := pf.Header()
	var ids []uint32
	for _, id := range hdr.ListPages() {
		if names[hdr.PageName(id)] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		pf.Close(false)
		exitf("no matching entries")
	}
	if dashv {
		for _, id := range ids {
			logf("delete: %s", hdr.PageName(id))
		}
	}
	skipped, err := pf.RemovePages(ids)
	if err != nil {
		pf.Close(false)
		exitf("removing pages: %s", err)
	}
	for _, id := range skipped {
		logf("not deleted (no file payload): %s", hdr.PageName(id))
	}
	if err := pf.Close(true); err != nil {
		exitf("closing %s: %s", args[0], err)
	}
}

func init() {
	addApplet(applet{
		name: "delete",
		help: "[-v] <archive> <name> ...",
		desc: `delete entries from an archive and compact it`,
		run: func(args []string) bool {
			if len(args) < 3 {
				return false
			}
			deletePages(args)
			return true
		},
	})
}
