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

// Package flasher implements region level write, verify and checksum
// operations on top of a flash.Device.
package flasher

import (
	"bytes"
	"hash/crc32"

	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/sirupsen/logrus"
)

// compareWindow is the read size used by CompareBytes.
const compareWindow = 256

// Flasher composes the primitives of a flash.Device into region level
// operations: erase-then-program-then-verify, whole region checksum and byte
// comparison. It never accesses the device in any other way, and never
// retries: the first failure is returned to the caller.
type Flasher struct {
	dev      flash.Device
	progress func(done, total int)
}

// New returns a Flasher operating on dev.
func New(dev flash.Device) *Flasher {
	return &Flasher{dev: dev}
}

// Device returns the underlying device.
func (f *Flasher) Device() flash.Device {
	return f.dev
}

// SetProgressCallback sets a callback invoked after every programmed page
// with the number of bytes written so far and the total.
func (f *Flasher) SetProgressCallback(callback func(done, total int)) {
	f.progress = callback
}

func (f *Flasher) checkBounds(address uint32, length int) error {
	g := f.dev.Geometry()
	if !g.Contains(address, length) {
		err := &flash.OutOfBoundsError{Address: address, Length: length, Geometry: g}
		logrus.Error(err)
		return err
	}
	return nil
}

// Verify reads back len(expected) bytes at address and returns a
// *flash.VerificationError describing the first differing byte.
func (f *Flasher) Verify(address uint32, expected []byte) error {
	actual, err := f.dev.Read(address, len(expected))
	if err != nil {
		logrus.Error(err)
		return err
	}
	for i := range expected {
		if actual[i] != expected[i] {
			err := &flash.VerificationError{
				Address:  address,
				Offset:   uint32(i),
				Expected: expected[i],
				Actual:   actual[i],
			}
			logrus.Error(err)
			return err
		}
	}
	return nil
}

// EraseRegion erases, in ascending order, every sector covering
// [address, address+length).
func (f *Flasher) EraseRegion(address uint32, length int) error {
	if err := f.checkBounds(address, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	g := f.dev.Geometry()
	first := g.SectorStart(address)
	last := g.SectorStart(address + uint32(length) - 1)
	for sector := uint64(first); sector <= uint64(last); sector += uint64(g.SectorSize) {
		logrus.Debugf("Erasing sector 0x%08X", sector)
		if err := f.dev.EraseSector(uint32(sector)); err != nil {
			logrus.Error(err)
			return err
		}
	}
	return nil
}

// WriteRegion erases the sectors covering the region, then programs and
// verifies data page by page. On failure the region is left partially
// written.
func (f *Flasher) WriteRegion(address uint32, data []byte) error {
	logrus.
		WithField("address", address).
		WithField("length", len(data)).
		Debug("Writing region")
	if err := f.EraseRegion(address, len(data)); err != nil {
		return err
	}
	return f.ProgramRegion(address, data)
}

// ProgramRegion programs and verifies data page by page without erasing.
// The region must already be erased (or hold bits that data only clears).
// Slices are split on page boundaries so an unaligned start address yields a
// shorter first page.
func (f *Flasher) ProgramRegion(address uint32, data []byte) error {
	if err := f.checkBounds(address, len(data)); err != nil {
		return err
	}
	g := f.dev.Geometry()
	for off := 0; off < len(data); {
		addr := address + uint32(off)
		room := int(g.PageSize - (addr-g.Base)%g.PageSize)
		end := min(off+room, len(data))
		page := data[off:end]

		logrus.Tracef("Programming %d bytes at 0x%08X", len(page), addr)
		if err := f.dev.ProgramPage(addr, page); err != nil {
			logrus.Error(err)
			return err
		}
		if err := f.Verify(addr, page); err != nil {
			if verr, ok := err.(*flash.VerificationError); ok {
				// report the offset from the start of the whole region
				verr.Offset += addr - address
				verr.Address = address
			}
			return err
		}
		off = end
		if f.progress != nil {
			f.progress(off, len(data))
		}
	}
	return nil
}

// Checksum returns the CRC-32 (IEEE) of [address, address+length).
func (f *Flasher) Checksum(address uint32, length int) (uint32, error) {
	if err := f.checkBounds(address, length); err != nil {
		return 0, err
	}
	buf, err := f.dev.Read(address, length)
	if err != nil {
		logrus.Error(err)
		return 0, err
	}
	return crc32.ChecksumIEEE(buf), nil
}

// VerifyChecksum reports whether the CRC-32 of the region equals expected.
func (f *Flasher) VerifyChecksum(address uint32, length int, expected uint32) (bool, error) {
	crc, err := f.Checksum(address, length)
	if err != nil {
		return false, err
	}
	logrus.Debugf("crc32 of flash 0x%08X+%d: 0x%08X, expected 0x%08X", address, length, crc, expected)
	return crc == expected, nil
}

// Mismatch is a single byte that differs from the reference.
type Mismatch struct {
	Offset   uint32 `json:"offset"`
	Expected byte   `json:"expected"`
	Actual   byte   `json:"actual"`
}

// Comparison is the outcome of CompareBytes.
type Comparison struct {
	Match      bool       `json:"match"`
	Compared   int        `json:"compared"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// CompareBytes compares the flash at address with reference, reading the
// device in fixed size windows.
//
// With stopOnMismatch the scan ends at the first differing window and only
// its first differing byte is reported. Without it the whole region is
// scanned and every differing byte is reported; Match is false whenever any
// byte differs.
func (f *Flasher) CompareBytes(address uint32, reference []byte, stopOnMismatch bool) (*Comparison, error) {
	if err := f.checkBounds(address, len(reference)); err != nil {
		return nil, err
	}
	res := &Comparison{Match: true}
	for off := 0; off < len(reference); off += compareWindow {
		end := min(off+compareWindow, len(reference))
		actual, err := f.dev.Read(address+uint32(off), end-off)
		if err != nil {
			logrus.Error(err)
			return nil, err
		}
		res.Compared = end
		want := reference[off:end]
		if bytes.Equal(actual, want) {
			continue
		}
		res.Match = false
		for i := range want {
			if actual[i] == want[i] {
				continue
			}
			res.Mismatches = append(res.Mismatches, Mismatch{Offset: uint32(off + i), Expected: want[i], Actual: actual[i]})
			if stopOnMismatch {
				return res, nil
			}
		}
	}
	return res, nil
}
