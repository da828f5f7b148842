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
	"fmt"
	"runtime/debug"
)

// version reports the vcs stamp recorded by the toolchain.
func version() (string, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	var rev, date string
	for i := range bi.Settings {
		switch bi.Settings[i].Key {
		case "vcs.revision":
			rev = bi.Settings[i].Value
		case "vcs.time":
			date = bi.Settings[i].Value
		}
	}
	switch {
	case rev != "" && date != "":
		return fmt.Sprintf("date: %s, revision: %s", date, rev), true
	case rev != "":
		return fmt.Sprintf("revision: %s", rev), true
	case date != "":
		return fmt.Sprintf("date: %s", date), true
	}
	return "", false
}

func init() {
	addApplet(applet{
		name: "version",
		help: "",
		desc: `print build version information`,
		run: func(args []string) bool {
			v, ok := version()
			if !ok {
				fmt.Println("version not available")
				return true
			}
			fmt.Println(v)
			return true
		},
	})
}
