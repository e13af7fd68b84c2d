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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, capacity, sector, page uint32) *MockDevice {
	d, err := NewMockDevice(capacity, sector, page)
	require.NoError(t, err)
	return d
}

func TestNewMockDeviceIsErased(t *testing.T) {
	d := newMock(t, 1024, 256, 128)
	require.Equal(t, Geometry{Size: 1024, SectorSize: 256, PageSize: 128}, d.Geometry())

	data, err := d.Read(0, 1024)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{ErasedValue}, 1024), data)
}

func TestNewMockDeviceInvalidGeometry(t *testing.T) {
	_, err := NewMockDevice(0, 256, 128)
	require.Error(t, err)
	_, err = NewMockDevice(1024, 0, 128)
	require.Error(t, err)
	_, err = NewMockDevice(1024, 256, 0)
	require.Error(t, err)
}

func TestMockRead(t *testing.T) {
	d := newMock(t, 1024, 256, 128)

	t.Run("full range", func(t *testing.T) {
		_, err := d.Read(1000, 24)
		require.NoError(t, err)
	})
	t.Run("past end", func(t *testing.T) {
		_, err := d.Read(1000, 25)
		var oob *OutOfBoundsError
		require.ErrorAs(t, err, &oob)
		require.EqualValues(t, 1000, oob.Address)
		require.Equal(t, 25, oob.Length)
	})
	t.Run("negative length", func(t *testing.T) {
		_, err := d.Read(0, -1)
		require.ErrorAs(t, err, new(*OutOfBoundsError))
	})
	t.Run("returns a copy", func(t *testing.T) {
		data, err := d.Read(0, 4)
		require.NoError(t, err)
		data[0] = 0x00
		again, err := d.Read(0, 4)
		require.NoError(t, err)
		require.Equal(t, ErasedValue, again[0])
	})
}

func TestMockEraseSector(t *testing.T) {
	d := newMock(t, 1024, 256, 128)
	require.NoError(t, d.ProgramPage(256, bytes.Repeat([]byte{0x00}, 128)))

	require.NoError(t, d.EraseSector(256))
	first, err := d.Read(256, 256)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{ErasedValue}, 256), first)

	// idempotent
	require.NoError(t, d.EraseSector(256))
	second, err := d.Read(256, 256)
	require.NoError(t, err)
	require.Equal(t, first, second)

	var align *AlignmentError
	require.ErrorAs(t, d.EraseSector(100), &align)
	require.EqualValues(t, 256, align.Alignment)

	require.ErrorAs(t, d.EraseSector(1024), new(*OutOfBoundsError))
}

func TestMockEraseTrailingPartialSector(t *testing.T) {
	// 1000 is not a multiple of 256: the last sector is 232 bytes long
	d := newMock(t, 1000, 256, 128)
	require.NoError(t, d.ProgramPage(896, bytes.Repeat([]byte{0x12}, 104)))
	require.NoError(t, d.EraseSector(768))
	data, err := d.Read(768, 232)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{ErasedValue}, 232), data)
}

func TestMockProgramPage(t *testing.T) {
	t.Run("clears bits only", func(t *testing.T) {
		d := newMock(t, 1024, 256, 128)
		require.NoError(t, d.ProgramPage(0, []byte{0xF0, 0x0F}))
		require.NoError(t, d.ProgramPage(0, []byte{0x30, 0x03}))
		data, err := d.Read(0, 2)
		require.NoError(t, err)
		require.Equal(t, []byte{0x30, 0x03}, data)
	})

	t.Run("refuses 0 to 1 transitions and leaves bytes untouched", func(t *testing.T) {
		d := newMock(t, 1024, 256, 128)
		require.NoError(t, d.ProgramPage(0, []byte{0xFF, 0x00, 0xFF}))

		err := d.ProgramPage(0, []byte{0x00, 0x01, 0x00})
		require.ErrorIs(t, err, ErrProgrammingViolation)
		var devErr *DeviceError
		require.ErrorAs(t, err, &devErr)
		require.EqualValues(t, 1, devErr.Address)

		data, err := d.Read(0, 3)
		require.NoError(t, err)
		require.Equal(t, []byte{0xFF, 0x00, 0xFF}, data, "a refused program must not touch any byte")
	})

	t.Run("same data twice is allowed", func(t *testing.T) {
		d := newMock(t, 1024, 256, 128)
		page := bytes.Repeat([]byte{0x5A}, 128)
		require.NoError(t, d.ProgramPage(128, page))
		require.NoError(t, d.ProgramPage(128, page))
	})

	t.Run("granularity", func(t *testing.T) {
		d := newMock(t, 1024, 256, 128)

		var align *AlignmentError
		require.ErrorAs(t, d.ProgramPage(0, make([]byte, 129)), &align)
		require.Contains(t, align.Reason, "page size")

		require.ErrorAs(t, d.ProgramPage(100, make([]byte, 29)), &align)
		require.Contains(t, align.Reason, "page boundary")

		// a short slice inside one page does not need to be page aligned
		require.NoError(t, d.ProgramPage(100, bytes.Repeat([]byte{0x01}, 28)))
	})

	t.Run("bounds", func(t *testing.T) {
		d := newMock(t, 1024, 256, 128)
		require.ErrorAs(t, d.ProgramPage(1020, make([]byte, 8)), new(*OutOfBoundsError))
	})
}

func TestProgramThenReadMatchesOnlyForClearingTransitions(t *testing.T) {
	patterns := []struct {
		name    string
		initial byte
		program byte
		ok      bool
	}{
		{"erased to anything", 0xFF, 0x3C, true},
		{"unchanged", 0x3C, 0x3C, true},
		{"subset of bits", 0x3C, 0x14, true},
		{"zero", 0xA5, 0x00, true},
		{"sets a bit", 0x3C, 0x7C, false},
		{"back to erased", 0x00, 0xFF, false},
	}
	for _, p := range patterns {
		t.Run(p.name, func(t *testing.T) {
			d := newMock(t, 256, 256, 64)
			require.NoError(t, d.ProgramPage(0, bytes.Repeat([]byte{p.initial}, 64)))
			err := d.ProgramPage(0, bytes.Repeat([]byte{p.program}, 64))
			data, rerr := d.Read(0, 64)
			require.NoError(t, rerr)
			if p.ok {
				require.NoError(t, err)
				require.Equal(t, bytes.Repeat([]byte{p.program}, 64), data)
			} else {
				require.ErrorIs(t, err, ErrProgrammingViolation)
				require.Equal(t, bytes.Repeat([]byte{p.initial}, 64), data)
			}
		})
	}
}

func TestProgramAfterErase(t *testing.T) {
	d := newMock(t, 1024, 256, 128)
	require.NoError(t, d.EraseSector(256))

	page := bytes.Repeat([]byte{0xAA}, 128)
	require.NoError(t, d.ProgramPage(256, page))
	data, err := d.Read(256, 128)
	require.NoError(t, err)
	require.Equal(t, page, data)

	err = d.ProgramPage(256, bytes.Repeat([]byte{0xFF}, 128))
	require.ErrorIs(t, err, ErrProgrammingViolation)
	require.ErrorAs(t, err, new(*DeviceError))
}
