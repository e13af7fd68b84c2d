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

package flash

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// MappedDevice is a memory-mapped flash bound to a fixed base address and
// geometry. Reads come straight from the mapped window. Erase and program
// need MCU specific register sequences that are not provided here: after the
// usual bounds and alignment checks they fail with ErrNotImplemented.
type MappedDevice struct {
	geometry Geometry
	window   []byte
	unmap    func() error
}

// NewMappedDevice binds g to an already mapped window. The window must be
// exactly g.Size bytes long; window[0] corresponds to g.Base.
func NewMappedDevice(g Geometry, window []byte) (*MappedDevice, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if uint64(len(window)) != uint64(g.Size) {
		return nil, fmt.Errorf("mapped window is %d bytes, geometry expects %d", len(window), g.Size)
	}
	return &MappedDevice{geometry: g, window: window}, nil
}

// OpenMappedDevice maps g.Size bytes of the file at path, starting at offset,
// read-only. Typical targets are /dev/mem (with offset equal to the physical
// base address) or a raw flash image.
func OpenMappedDevice(path string, offset int64, g Geometry) (*MappedDevice, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	window, unmap, err := mapWindow(path, offset, int(g.Size))
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	logrus.
		WithField("path", path).
		WithField("offset", offset).
		WithField("geometry", g.String()).
		Info("Mapped flash window")
	return &MappedDevice{geometry: g, window: window, unmap: unmap}, nil
}

// Close releases the mapping, if any.
func (d *MappedDevice) Close() error {
	if d.unmap == nil {
		return nil
	}
	err := d.unmap()
	d.unmap = nil
	d.window = nil
	return err
}

// Geometry implements Device.
func (d *MappedDevice) Geometry() Geometry {
	return d.geometry
}

// Read implements Device.
func (d *MappedDevice) Read(address uint32, length int) ([]byte, error) {
	if err := checkRead(d.geometry, address, length); err != nil {
		return nil, err
	}
	if d.window == nil {
		return nil, &DeviceError{Address: address, Reason: "mapping closed"}
	}
	out := make([]byte, length)
	copy(out, d.window[address-d.geometry.Base:])
	return out, nil
}

// EraseSector implements Device.
func (d *MappedDevice) EraseSector(address uint32) error {
	if err := checkErase(d.geometry, address); err != nil {
		return err
	}
	return &DeviceError{Address: address, Reason: "sector erase sequence", Err: ErrNotImplemented}
}

// ProgramPage implements Device.
func (d *MappedDevice) ProgramPage(address uint32, data []byte) error {
	if err := checkProgram(d.geometry, address, data); err != nil {
		return err
	}
	return &DeviceError{Address: address, Reason: "page program sequence", Err: ErrNotImplemented}
}
