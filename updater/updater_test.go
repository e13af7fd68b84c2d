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

package updater

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/stretchr/testify/require"
)

func image(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i ^ 0x5A)
	}
	return data
}

func newDevice(t *testing.T) *flash.MockDevice {
	dev, err := flash.NewMockDevice(8192, 1024, 256)
	require.NoError(t, err)
	return dev
}

func TestSequentialChunksAcrossSectors(t *testing.T) {
	data := image(1024)
	for _, tc := range []struct {
		name     string
		checksum uint32
		wantErr  error
	}{
		{"right checksum", crc32.ChecksumIEEE(data), nil},
		{"wrong checksum", crc32.ChecksumIEEE(data) ^ 0xFFFF, ErrChecksumMismatch},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := newDevice(t)
			s, err := Begin(dev, Metadata{TargetAddress: 2048, ImageSize: 1024, ExpectedChecksum: tc.checksum})
			require.NoError(t, err)
			require.Equal(t, Begun, s.State())

			require.NoError(t, s.WriteChunk(0, data[:512]))
			require.NoError(t, s.WriteChunk(512, data[512:]))
			require.EqualValues(t, 1024, s.BytesWritten())
			require.Equal(t, Writing, s.State())

			var mismatch *OffsetMismatchError
			require.ErrorAs(t, s.WriteChunk(0, data[:512]), &mismatch)
			require.EqualValues(t, 0, mismatch.Offset)
			require.EqualValues(t, 1024, mismatch.Expected)
			require.EqualValues(t, 1024, s.BytesWritten())

			err = s.Finalize()
			if tc.wantErr == nil {
				require.NoError(t, err)
				require.Equal(t, Finalized, s.State())
			} else {
				require.ErrorIs(t, err, tc.wantErr)
				var cerr *ChecksumMismatchError
				require.ErrorAs(t, err, &cerr)
				require.Equal(t, crc32.ChecksumIEEE(data), cerr.Actual)
				require.Equal(t, Failed, s.State())
			}

			written, err := dev.Read(2048, 1024)
			require.NoError(t, err)
			require.Equal(t, data, written)
		})
	}
}

func TestBeginErasesTarget(t *testing.T) {
	dev := newDevice(t)
	require.NoError(t, dev.ProgramPage(1024, []byte{0x00, 0x00}))
	require.NoError(t, dev.ProgramPage(3100, []byte{0x00}))

	s, err := Begin(dev, Metadata{TargetAddress: 1024, ImageSize: 1500})
	require.NoError(t, err)
	defer s.Abort()

	got, err := dev.Read(1024, 2048)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 2048), got, "both covering sectors are erased")
	outside, err := dev.Read(3100, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, outside)
}

func TestBeginInvalidMetadata(t *testing.T) {
	dev := newDevice(t)

	_, err := Begin(dev, Metadata{TargetAddress: 0, ImageSize: 0})
	require.ErrorIs(t, err, ErrInvalidSize)

	_, err = Begin(dev, Metadata{TargetAddress: 8000, ImageSize: 1024})
	var ferr *FlashError
	require.ErrorAs(t, err, &ferr)
	require.ErrorAs(t, err, new(*flash.OutOfBoundsError))

	// failed Begin calls must not leave the device claimed
	s, err := Begin(dev, Metadata{TargetAddress: 0, ImageSize: 16})
	require.NoError(t, err)
	require.NoError(t, s.Abort())
}

func TestFinalizeTransferIncomplete(t *testing.T) {
	dev := newDevice(t)
	data := image(1024)
	s, err := Begin(dev, Metadata{ImageSize: 1024, ExpectedChecksum: crc32.ChecksumIEEE(data)})
	require.NoError(t, err)
	require.NoError(t, s.WriteChunk(0, data[:512]))

	err = s.Finalize()
	require.ErrorIs(t, err, ErrTransferIncomplete)
	var terr *TransferIncompleteError
	require.ErrorAs(t, err, &terr)
	require.EqualValues(t, 512, terr.Written)
	require.EqualValues(t, 1024, terr.ImageSize)

	require.ErrorIs(t, s.Finalize(), ErrSessionClosed)
	require.ErrorIs(t, s.WriteChunk(512, data[512:]), ErrSessionClosed)
}

func TestChunkOverflow(t *testing.T) {
	s, err := Begin(newDevice(t), Metadata{ImageSize: 100})
	require.NoError(t, err)
	defer s.Abort()

	var oerr *ChunkOverflowError
	require.ErrorAs(t, s.WriteChunk(0, make([]byte, 101)), &oerr)
	require.EqualValues(t, 100, oerr.ImageSize)
	require.Zero(t, s.BytesWritten())

	// a rejected chunk does not poison the session
	require.NoError(t, s.WriteChunk(0, make([]byte, 100)))
}

func TestOffsetMismatchAheadOfStream(t *testing.T) {
	s, err := Begin(newDevice(t), Metadata{ImageSize: 1024})
	require.NoError(t, err)
	defer s.Abort()

	require.ErrorIs(t, s.WriteChunk(512, make([]byte, 512)), ErrOffsetMismatch)
	require.Zero(t, s.BytesWritten())
}

func TestFlashFailureIsWrapped(t *testing.T) {
	dev := newDevice(t)
	s, err := Begin(dev, Metadata{ImageSize: 256})
	require.NoError(t, err)
	defer s.Abort()

	// simulate a foreign write between Begin and the chunk
	require.NoError(t, dev.ProgramPage(10, []byte{0x00}))
	err = s.WriteChunk(0, bytes.Repeat([]byte{0xFF}, 256))
	var ferr *FlashError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, "write", ferr.Op)
	require.ErrorIs(t, err, flash.ErrProgrammingViolation)
	require.Zero(t, s.BytesWritten())
}

func TestSingleWriter(t *testing.T) {
	dev := newDevice(t)
	other := newDevice(t)

	first, err := Begin(dev, Metadata{ImageSize: 1024})
	require.NoError(t, err)

	_, err = Begin(dev, Metadata{TargetAddress: 4096, ImageSize: 1024})
	require.ErrorIs(t, err, ErrDeviceBusy)

	second, err := Begin(other, Metadata{ImageSize: 1024})
	require.NoError(t, err, "a different device is not affected")
	require.NoError(t, second.Abort())

	require.NoError(t, first.Abort())
	require.Equal(t, Aborted, first.State())
	require.ErrorIs(t, first.Abort(), ErrSessionClosed)

	third, err := Begin(dev, Metadata{ImageSize: 1024})
	require.NoError(t, err)
	require.Error(t, third.Finalize())

	// Finalize releases the device even when it fails
	fourth, err := Begin(dev, Metadata{ImageSize: 1024})
	require.NoError(t, err)
	require.NoError(t, fourth.Abort())
}

// taggedDevice is a device passed by value that cannot be a map key.
type taggedDevice struct {
	*flash.MockDevice
	tags []string
}

// wrappedDevice has a comparable type but may hold an unhashable device.
type wrappedDevice struct {
	flash.Device
}

func TestBeginNonComparableDevice(t *testing.T) {
	for _, tc := range []struct {
		name string
		dev  flash.Device
	}{
		{"slice field", taggedDevice{MockDevice: newDevice(t), tags: []string{"app"}}},
		{"unhashable dynamic value", wrappedDevice{Device: taggedDevice{MockDevice: newDevice(t)}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() {
				_, err = Begin(tc.dev, Metadata{ImageSize: 16})
			})
			require.ErrorIs(t, err, ErrDeviceNotClaimable)
		})
	}

	// a comparable value device is claimed like a pointer
	dev := wrappedDevice{Device: newDevice(t)}
	s, err := Begin(dev, Metadata{ImageSize: 16})
	require.NoError(t, err)
	_, err = Begin(dev, Metadata{ImageSize: 16})
	require.ErrorIs(t, err, ErrDeviceBusy)
	require.NoError(t, s.Abort())
}

func TestProgressCallback(t *testing.T) {
	var reports []uint32
	s, err := Begin(newDevice(t), Metadata{ImageSize: 300}, WithProgressCallback(func(written, total uint32) {
		require.EqualValues(t, 300, total)
		reports = append(reports, written)
	}))
	require.NoError(t, err)
	defer s.Abort()

	require.NoError(t, s.WriteChunk(0, make([]byte, 100)))
	require.NoError(t, s.WriteChunk(100, make([]byte, 200)))
	require.Equal(t, []uint32{100, 300}, reports)
}
