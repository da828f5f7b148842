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

// Package fsutil provides small path and filesystem
// helpers shared by tools built on top of paged
// archives.
package fsutil

import (
	"os"
	"strings"
)

func isSlash(r rune) bool { return r == '/' || r == '\\' }

// Join joins two archive path components with a single
// forward slash, trimming any slashes (forward or
// backward) already present at the seam. Either
// component may be empty.
func Join(prefix, suffix string) string {
	prefix = strings.TrimRightFunc(prefix, isSlash)
	suffix = strings.TrimLeftFunc(suffix, isSlash)
	if prefix == "" {
		return suffix
	}
	if suffix == "" {
		return prefix
	}
	return prefix + "/" + suffix
}

// Exists indicates whether name exists on the local
// filesystem.
func Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
