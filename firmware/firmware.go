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

// Package firmware loads application images from disk and derives the
// metadata of an update from them.
package firmware

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"slices"
	"strings"

	"github.com/arduino/arduino-fwupdater/updater"
	"github.com/arduino/go-paths-helper"
	"github.com/marcinbor85/gohex"
	"github.com/sirupsen/logrus"
	semver "go.bug.st/relaxed-semver"
)

// hexLineLength is the number of data bytes per record in dumped HEX files.
const hexLineLength = 16

// Image is an application image ready to be installed.
type Image struct {
	Path    *paths.Path     `json:"-"`
	Address uint32          `json:"address"`
	Data    []byte          `json:"-"`
	Version *semver.Version `json:"version,omitempty"`
}

// Size returns the image size in bytes.
func (i *Image) Size() uint32 {
	return uint32(len(i.Data))
}

// Checksum returns the CRC-32 (IEEE) of the image.
func (i *Image) Checksum() uint32 {
	return crc32.ChecksumIEEE(i.Data)
}

// Metadata returns the update metadata describing the image.
func (i *Image) Metadata() updater.Metadata {
	return updater.Metadata{
		TargetAddress:    i.Address,
		ImageSize:        i.Size(),
		ExpectedChecksum: i.Checksum(),
	}
}

// Reader returns a reader over the image data.
func (i *Image) Reader() io.Reader {
	return bytes.NewReader(i.Data)
}

// Load reads the image at path. Intel HEX files (.hex, .ihex) carry their
// own load address and gaps between records are filled with the erased
// value; any other file is taken as a raw binary to be placed at base.
func Load(path *paths.Path, base uint32) (*Image, error) {
	switch strings.ToLower(path.Ext()) {
	case ".hex", ".ihex":
		return loadHex(path)
	}
	data, err := path.ReadFile()
	if err != nil {
		return nil, fmt.Errorf("reading firmware: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("firmware %s is empty", path)
	}
	logrus.WithField("path", path).WithField("size", len(data)).Debug("Loaded binary firmware")
	return &Image{Path: path, Address: base, Data: data}, nil
}

func loadHex(path *paths.Path) (*Image, error) {
	file, err := path.Open()
	if err != nil {
		return nil, fmt.Errorf("opening firmware: %w", err)
	}
	defer file.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("firmware %s has no data records", path)
	}
	slices.SortFunc(segments, func(a, b gohex.DataSegment) int {
		return cmp.Compare(a.Address, b.Address)
	})
	first, last := segments[0], segments[len(segments)-1]
	end := uint64(last.Address) + uint64(len(last.Data))
	size := uint32(end - uint64(first.Address))

	logrus.
		WithField("path", path).
		WithField("segments", len(segments)).
		WithField("address", fmt.Sprintf("0x%08X", first.Address)).
		Debug("Loaded Intel HEX firmware")
	return &Image{
		Path:    path,
		Address: first.Address,
		Data:    mem.ToBinary(first.Address, size, 0xFF),
	}, nil
}

// DumpHex writes data as an Intel HEX file loading at address.
func DumpHex(w io.Writer, address uint32, data []byte) error {
	if len(data) == 0 {
		return errors.New("nothing to dump")
	}
	mem := gohex.NewMemory()
	if err := mem.AddBinary(address, data); err != nil {
		return err
	}
	return mem.DumpIntelHex(w, hexLineLength)
}
