/*
	arduino-fwupdater
	Copyright (c) 2026 Arduino LLC.  All right reserved.

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package firmware

import (
	"fmt"

	"github.com/arduino/arduino-fwupdater/updater"
	"github.com/arduino/go-paths-helper"
	semver "go.bug.st/relaxed-semver"
	"gopkg.in/yaml.v3"
)

// Manifest is the YAML sidecar shipped with an image. Every field is
// optional: a missing target keeps the address from the image file and a
// missing checksum is computed from the image.
type Manifest struct {
	Version  string  `yaml:"version"`
	Target   *uint32 `yaml:"target"`
	Checksum *uint32 `yaml:"checksum"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path *paths.Path) (*Manifest, error) {
	data, err := path.ReadFile()
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if m.Version != "" {
		if _, err := semver.Parse(m.Version); err != nil {
			return nil, fmt.Errorf("invalid version in manifest %s: %w", path, err)
		}
	}
	return &m, nil
}

// Apply overrides the image address and version with the manifest values.
func (m *Manifest) Apply(img *Image) error {
	if m.Version != "" {
		v, err := semver.Parse(m.Version)
		if err != nil {
			return err
		}
		img.Version = v
	}
	if m.Target != nil {
		img.Address = *m.Target
	}
	return nil
}

// Metadata returns the update metadata for img, honoring the manifest
// checksum when present so that a corrupted image is caught by the session.
func (m *Manifest) Metadata(img *Image) (meta updater.Metadata) {
	meta = img.Metadata()
	if m.Checksum != nil {
		meta.ExpectedChecksum = *m.Checksum
	}
	return meta
}
