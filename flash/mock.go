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

// MockDevice is an in-memory Device used for host side testing. Its address
// space starts at 0 and every byte is erased at creation.
type MockDevice struct {
	geometry Geometry
	mem      []byte
}

// NewMockDevice creates an erased in-memory device.
func NewMockDevice(capacity, sectorSize, pageSize uint32) (*MockDevice, error) {
	g := Geometry{Size: capacity, SectorSize: sectorSize, PageSize: pageSize}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	mem := make([]byte, capacity)
	for i := range mem {
		mem[i] = ErasedValue
	}
	return &MockDevice{geometry: g, mem: mem}, nil
}

// Geometry implements Device.
func (d *MockDevice) Geometry() Geometry {
	return d.geometry
}

// Read implements Device.
func (d *MockDevice) Read(address uint32, length int) ([]byte, error) {
	if err := checkRead(d.geometry, address, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, d.mem[address:])
	return out, nil
}

// EraseSector implements Device. A trailing sector shorter than SectorSize is
// erased up to the end of the device.
func (d *MockDevice) EraseSector(address uint32) error {
	if err := checkErase(d.geometry, address); err != nil {
		return err
	}
	end := min(uint64(address)+uint64(d.geometry.SectorSize), d.geometry.End())
	for i := uint64(address); i < end; i++ {
		d.mem[i] = ErasedValue
	}
	logrus.Tracef("mock flash: erased sector 0x%08X", address)
	return nil
}

// ProgramPage implements Device. The whole slice is checked before any byte
// is written so a refused program leaves the flash untouched.
func (d *MockDevice) ProgramPage(address uint32, data []byte) error {
	if err := checkProgram(d.geometry, address, data); err != nil {
		return err
	}
	current := d.mem[address : address+uint32(len(data))]
	if i := checkTransitions(current, data); i >= 0 {
		return &DeviceError{
			Address: address + uint32(i),
			Reason:  fmt.Sprintf("cannot program 0x%02X over 0x%02X", data[i], current[i]),
			Err:     ErrProgrammingViolation,
		}
	}
	for i, b := range data {
		current[i] &= b
	}
	logrus.Tracef("mock flash: programmed %d bytes at 0x%08X", len(data), address)
	return nil
}
