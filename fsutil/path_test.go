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

package fsutil

import (
	"path/filepath"
	"testing"
)

func TestJoin(t *testing.T) {
	cases := []struct {
		prefix, suffix, want string
	}{
		{"a", "b", "a/b"},
		{"a/", "b", "a/b"},
		{"a", "/b", "a/b"},
		{"a///", "///b", "a/b"},
		{`a\`, `\b`, "a/b"},
		{"", "b", "b"},
		{"a", "", "a"},
		{"", "", ""},
		{"/", "/", ""},
		{"a/b", "c/d", "a/b/c/d"},
	}
	for i := range cases {
		got := Join(cases[i].prefix, cases[i].suffix)
		if got != cases[i].want {
			t.Errorf("Join(%q, %q) = %q, want %q",
				cases[i].prefix, cases[i].suffix, got, cases[i].want)
		}
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if !Exists(dir) {
		t.Errorf("Exists(%q) = false", dir)
	}
	if Exists(filepath.Join(dir, "nope")) {
		t.Error("Exists reported a missing file")
	}
}
