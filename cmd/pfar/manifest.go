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
	"os"
	"path/filepath"

	"github.com/shenfy/pagedfile"
	"sigs.k8s.io/yaml"
)

// ManifestEntry names one file to pack.
type ManifestEntry struct {
	// Path is the file's location on the local filesystem.
	Path string `json:"path"`
	// Name is the entry name inside the archive.
	// If empty, the file's base name is used.
	Name string `json:"name,omitempty"`
}

// Manifest is the document accepted by pack -m:
// a list of files to add, in order. Manifests may be
// written as JSON or YAML.
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// just pick an upper limit to prevent DoS
const maxManifestSize = 1024 * 1024

func decodeManifest(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxManifestSize {
		return nil, fmt.Errorf("manifest of size %d beyond limit %d", info.Size(), maxManifestSize)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := new(Manifest)
	if err := yaml.Unmarshal(buf, m); err != nil {
		return nil, err
	}
	for i := range m.Entries {
		if m.Entries[i].Path == "" {
			return nil, fmt.Errorf("manifest entry %d has no path", i)
		}
	}
	return m, nil
}

func manifestEntries(path string) []fileEntry {
	m, err := decodeManifest(path)
	if err != nil {
		exitf("reading manifest %s: %s", path, err)
	}
	entries := make([]fileEntry, 0, len(m.Entries))
	for i := range m.Entries {
		name := m.Entries[i].Name
		if name == "" {
			name = filepath.Base(m.Entries[i].Path)
		}
		entries = append(entries, fileEntry{
			abs:  m.Entries[i].Path,
			rel:  filepath.ToSlash(name),
			kind: pagedfile.KindFile,
		})
	}
	return entries
}
