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
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMappedDevice(t *testing.T) {
	g := Geometry{Base: 0x08000000, Size: 4096, SectorSize: 1024, PageSize: 256}
	window := bytes.Repeat([]byte{0x42}, 4096)
	window[0] = 0x01

	d, err := NewMappedDevice(g, window)
	require.NoError(t, err)
	require.Equal(t, g, d.Geometry())

	t.Run("read is relative to the base address", func(t *testing.T) {
		data, err := d.Read(0x08000000, 2)
		require.NoError(t, err)
		require.Equal(t, []byte{0x01, 0x42}, data)
	})

	t.Run("read below base is out of bounds", func(t *testing.T) {
		_, err := d.Read(0x07FFFFFF, 2)
		require.ErrorAs(t, err, new(*OutOfBoundsError))
	})

	t.Run("erase and program are not implemented", func(t *testing.T) {
		err := d.EraseSector(0x08000400)
		require.ErrorIs(t, err, ErrNotImplemented)
		require.ErrorAs(t, err, new(*DeviceError))

		err = d.ProgramPage(0x08000000, []byte{0x00})
		require.ErrorIs(t, err, ErrNotImplemented)
	})

	t.Run("checks come before the missing sequence", func(t *testing.T) {
		require.ErrorAs(t, d.EraseSector(0x08000001), new(*AlignmentError))
		require.ErrorAs(t, d.ProgramPage(0x08001000, []byte{0x00}), new(*OutOfBoundsError))
		require.ErrorAs(t, d.ProgramPage(0x08000000, make([]byte, 257)), new(*AlignmentError))
	})
}

func TestNewMappedDeviceWindowSize(t *testing.T) {
	_, err := NewMappedDevice(Geometry{Size: 4096, SectorSize: 1024, PageSize: 256}, make([]byte, 1024))
	require.Error(t, err)
}

func TestOpenMappedDevice(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("memory mapping is only available on unix")
	}
	image := bytes.Repeat([]byte{0xC3}, 8192)
	path := filepath.Join(t.TempDir(), "flash.bin")
	require.NoError(t, os.WriteFile(path, image, 0o644))

	d, err := OpenMappedDevice(path, 0, Geometry{Base: 0x10000000, Size: 8192, SectorSize: 4096, PageSize: 256})
	require.NoError(t, err)

	data, err := d.Read(0x10001000, 16)
	require.NoError(t, err)
	require.Equal(t, image[0x1000:0x1010], data)

	require.NoError(t, d.Close())
	_, err = d.Read(0x10000000, 1)
	require.ErrorAs(t, err, new(*DeviceError))
	require.NoError(t, d.Close())
}
