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

package spinor

import (
	"bytes"
	"errors"
	"testing"

	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
)

// fakeChip emulates the subset of a W25Q128 command set used by Device.
type fakeChip struct {
	cs      *gpiotest.Pin
	mem     []byte
	wel     bool
	txCount int
	failTx  bool
}

func newFakeChip(size int) *fakeChip {
	return &fakeChip{
		cs:  &gpiotest.Pin{N: "CS", L: gpio.High},
		mem: bytes.Repeat([]byte{0xFF}, size),
	}
}

func (c *fakeChip) String() string {
	return "fakeChip"
}

func (c *fakeChip) Duplex() conn.Duplex {
	return conn.Full
}

func (c *fakeChip) TxPackets([]spi.Packet) error {
	return errors.New("not supported")
}

func (c *fakeChip) Tx(w, r []byte) error {
	c.txCount++
	if c.failTx {
		return errors.New("bus error")
	}
	if c.cs.Read() != gpio.Low {
		return errors.New("chip select not asserted")
	}
	addr := 0
	if len(w) >= 4 {
		addr = int(w[1])<<16 | int(w[2])<<8 | int(w[3])
	}
	switch w[0] {
	case cmdReadID:
		copy(r[1:], chipIDWinbondW25Q128[:])
	case cmdReadStatusRegister:
		r[1] = 0
		if c.wel {
			r[1] |= 1 << 1
		}
	case cmdWriteEnable:
		c.wel = true
	case cmdRead:
		copy(r[4:], c.mem[addr:])
	case cmdPageProgram:
		if !c.wel {
			return nil
		}
		payload := append([]byte(nil), w[4:]...)
		for i, b := range payload {
			c.mem[addr+i] &= b
		}
		c.wel = false
	case cmdErase4KB:
		if !c.wel {
			return nil
		}
		start := addr &^ (SectorSize - 1)
		for i := start; i < start+SectorSize; i++ {
			c.mem[i] = 0xFF
		}
		c.wel = false
	}
	return nil
}

func newTestDevice(t *testing.T, size int) (*Device, *fakeChip) {
	chip := newFakeChip(size)
	d, err := New(chip, chip.cs, uint32(size))
	require.NoError(t, err)
	return d, chip
}

func TestNewInvalidSize(t *testing.T) {
	chip := newFakeChip(16)
	_, err := New(chip, chip.cs, 0)
	require.Error(t, err)
	_, err = New(chip, chip.cs, 1<<25)
	require.Error(t, err)
}

func TestReadID(t *testing.T) {
	d, _ := newTestDevice(t, 2*SectorSize)
	id, name, err := d.ReadID()
	require.NoError(t, err)
	require.Equal(t, chipIDWinbondW25Q128, id)
	require.Equal(t, "Winbond W25Q 128Mb", name)
	require.Equal(t, knownChips[chipIDWinbondW25Q128].tPP, d.tPP())
}

func TestUnknownChipUsesWorstCaseTimings(t *testing.T) {
	d, _ := newTestDevice(t, SectorSize)
	require.Equal(t, knownChips[chipIDMicronN25Q32].tErase4KB, d.tErase4KB())
}

func TestGeometry(t *testing.T) {
	d, _ := newTestDevice(t, 4*SectorSize)
	require.Equal(t, flash.Geometry{Size: 4 * SectorSize, SectorSize: SectorSize, PageSize: PageSize}, d.Geometry())
}

func TestEraseProgramRead(t *testing.T) {
	d, chip := newTestDevice(t, 2*SectorSize)

	page := bytes.Repeat([]byte{0xA5}, PageSize)
	require.NoError(t, d.ProgramPage(SectorSize, page))
	data, err := d.Read(SectorSize, PageSize)
	require.NoError(t, err)
	require.Equal(t, page, data)
	require.Equal(t, gpio.High, chip.cs.Read(), "chip select must be released")

	err = d.ProgramPage(SectorSize, bytes.Repeat([]byte{0xFF}, PageSize))
	require.ErrorIs(t, err, flash.ErrProgrammingViolation)
	data, err = d.Read(SectorSize, PageSize)
	require.NoError(t, err)
	require.Equal(t, page, data)

	require.NoError(t, d.EraseSector(SectorSize))
	require.NoError(t, d.EraseSector(SectorSize))
	data, err = d.Read(SectorSize, PageSize)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xFF}, PageSize), data)
}

func TestChecksBeforeBusTraffic(t *testing.T) {
	d, chip := newTestDevice(t, 2*SectorSize)

	require.ErrorAs(t, d.EraseSector(100), new(*flash.AlignmentError))
	require.ErrorAs(t, d.EraseSector(2*SectorSize), new(*flash.OutOfBoundsError))
	require.ErrorAs(t, d.ProgramPage(0, make([]byte, PageSize+1)), new(*flash.AlignmentError))
	require.ErrorAs(t, d.ProgramPage(200, make([]byte, 100)), new(*flash.AlignmentError))
	_, err := d.Read(2*SectorSize-1, 2)
	require.ErrorAs(t, err, new(*flash.OutOfBoundsError))
	require.Zero(t, chip.txCount)
}

func TestBusErrorIsDeviceError(t *testing.T) {
	d, chip := newTestDevice(t, SectorSize)
	chip.failTx = true
	_, err := d.Read(0, 4)
	require.ErrorAs(t, err, new(*flash.DeviceError))
	require.ErrorAs(t, d.EraseSector(0), new(*flash.DeviceError))
}

func TestStatusRegisterString(t *testing.T) {
	require.Equal(t, "00000000", StatusRegister(0).String())
	require.Equal(t, "00000011 WEL,BUSY", StatusRegister(3).String())
}
