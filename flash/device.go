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

// Package flash models erasable/programmable non-volatile storage.
//
// A Device exposes its Geometry and three primitives: Read, EraseSector and
// ProgramPage. Programming can only clear bits: a byte that must go from 0 to
// 1 requires an erase of its containing sector first, and every Device
// implementation must refuse such a write instead of silently corrupting it.
package flash

import "fmt"

// ErasedValue is the value every byte holds right after an erase.
const ErasedValue byte = 0xFF

// Geometry describes the address space and the erase/program granularity of
// a Device. Valid addresses are [Base, Base+Size).
type Geometry struct {
	Base       uint32 `json:"base" yaml:"base"`
	Size       uint32 `json:"size" yaml:"size"`
	SectorSize uint32 `json:"sector_size" yaml:"sector_size"`
	PageSize   uint32 `json:"page_size" yaml:"page_size"`
}

// Validate checks that the geometry describes a usable device.
func (g Geometry) Validate() error {
	if g.Size == 0 {
		return fmt.Errorf("invalid flash geometry: size must be positive")
	}
	if g.SectorSize == 0 {
		return fmt.Errorf("invalid flash geometry: sector size must be positive")
	}
	if g.PageSize == 0 {
		return fmt.Errorf("invalid flash geometry: page size must be positive")
	}
	if uint64(g.Base)+uint64(g.Size) > 1<<32 {
		return fmt.Errorf("invalid flash geometry: 0x%08X+0x%X exceeds the 32-bit address space", g.Base, g.Size)
	}
	return nil
}

// End returns the first address past the device.
func (g Geometry) End() uint64 {
	return uint64(g.Base) + uint64(g.Size)
}

// Contains reports whether [address, address+length) lies within the device.
func (g Geometry) Contains(address uint32, length int) bool {
	if length < 0 || address < g.Base {
		return false
	}
	return uint64(address)+uint64(length) <= g.End()
}

// SectorStart returns the start address of the sector holding address.
func (g Geometry) SectorStart(address uint32) uint32 {
	return g.Base + (address-g.Base)/g.SectorSize*g.SectorSize
}

func (g Geometry) String() string {
	return fmt.Sprintf("base=0x%08X size=%d sector=%d page=%d", g.Base, g.Size, g.SectorSize, g.PageSize)
}

// Device is a single erasable/programmable storage device.
//
// Implementations are expected to be pointer types: the updater uses the
// Device value to enforce a single writer per device.
type Device interface {
	// Geometry returns the device address space and granularity.
	Geometry() Geometry
	// Read returns a copy of length bytes starting at address.
	Read(address uint32, length int) ([]byte, error)
	// EraseSector sets the sector starting at address to ErasedValue.
	EraseSector(address uint32) error
	// ProgramPage ANDs data into the flash at address. data must fit in a
	// single page and must not require any 0 to 1 bit transition.
	ProgramPage(address uint32, data []byte) error
}

// checkRead validates a Read request against g.
func checkRead(g Geometry, address uint32, length int) error {
	if !g.Contains(address, length) {
		return &OutOfBoundsError{Address: address, Length: length, Geometry: g}
	}
	return nil
}

// checkErase validates an EraseSector request against g.
func checkErase(g Geometry, address uint32) error {
	if !g.Contains(address, 1) {
		return &OutOfBoundsError{Address: address, Length: 1, Geometry: g}
	}
	if (address-g.Base)%g.SectorSize != 0 {
		return &AlignmentError{Address: address, Alignment: g.SectorSize, Reason: "sector erase address is not sector aligned"}
	}
	return nil
}

// checkProgram validates a ProgramPage request against g.
func checkProgram(g Geometry, address uint32, data []byte) error {
	if !g.Contains(address, len(data)) {
		return &OutOfBoundsError{Address: address, Length: len(data), Geometry: g}
	}
	if uint32(len(data)) > g.PageSize {
		return &AlignmentError{Address: address, Alignment: g.PageSize, Length: len(data), Reason: "data exceeds page size"}
	}
	if pageOffset := (address - g.Base) % g.PageSize; uint64(pageOffset)+uint64(len(data)) > uint64(g.PageSize) {
		return &AlignmentError{Address: address, Alignment: g.PageSize, Length: len(data), Reason: "data crosses a page boundary"}
	}
	return nil
}

// checkTransitions returns the index of the first byte of data that would
// need a 0 to 1 transition over current, or -1.
func checkTransitions(current, data []byte) int {
	for i, b := range data {
		if current[i]&b != b {
			return i
		}
	}
	return -1
}
