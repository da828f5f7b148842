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

// pfar packs files and directories into paged archives
// and extracts, lists, and deletes their contents.
package main

import (
	"fmt"
	"os"

	"github.com/shenfy/pagedfile"
)

type applet struct {
	name string
	help string // command line usage
	desc string // text description

	// run the applet, returning false
	// if the arguments are invalid
	run func(args []string) bool
}

var applets []applet

func addApplet(a applet) {
	applets = append(applets, a)
}

func exitf(f string, args ...interface{}) {
	if len(f) == 0 || f[len(f)-1] != '\n' {
		f += "\n"
	}
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func logf(f string, args ...interface{}) {
	if len(f) == 0 || f[len(f)-1] != '\n' {
		f += "\n"
	}
	fmt.Fprintf(os.Stderr, f, args...)
}

// openArchive opens an archive or exits with a
// diagnostic that distinguishes a missing file
// from a malformed one.
func openArchive(path string, mode pagedfile.Mode) *pagedfile.PagedFile {
	pf, err := pagedfile.Open(path, mode)
	if err != nil {
		if os.IsNotExist(err) {
			exitf("archive %s does not exist", path)
		}
		exitf("opening %s: %s", path, err)
	}
	return pf
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <command> [args...]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "commands:\n")
	for i := range applets {
		fmt.Fprintf(os.Stderr, "  %s %s\n", applets[i].name, applets[i].help)
		fmt.Fprintf(os.Stderr, "    %s\n", applets[i].desc)
	}
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		usage()
		os.Exit(1)
	}
	for i := range applets {
		if applets[i].name != args[0] {
			continue
		}
		if !applets[i].run(args) {
			exitf("usage: %s %s %s", os.Args[0], applets[i].name, applets[i].help)
		}
		return
	}
	exitf("no such command %q (try %s help)", args[0], os.Args[0])
}
