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

// Package spinor implements flash.Device for serial NOR flash chips driven
// over SPI.
//
// # References:
//
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet
//   - [W25Q128]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
package spinor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

const (
	// SectorSize is the smallest erasable unit (4KB subsector erase).
	SectorSize = 4 << 10
	// PageSize is the page program buffer size.
	PageSize = 256
)

// Flash commands:
//   - [N25Q32|Table 16: Command Set]
//   - [W25Q128|8.1.2 Instruction Set Table 1]
const (
	cmdReadID             = 0x9F
	cmdRead               = 0x03
	cmdWriteEnable        = 0x06
	cmdPageProgram        = 0x02
	cmdErase4KB           = 0x20
	cmdReadStatusRegister = 0x05
)

// Device is a SPI NOR flash chip. Its address space starts at 0.
type Device struct {
	conn spi.Conn
	cs   gpio.PinOut
	size uint32
	id   [3]byte
	pr   *chipParams
}

// New returns a Device of size bytes using conn, asserting cs (active low)
// around every transaction.
func New(conn spi.Conn, cs gpio.PinOut, size uint32) (*Device, error) {
	if size == 0 || size > 1<<24 {
		return nil, fmt.Errorf("invalid SPI NOR size %d: 24-bit addressing supports up to 16MB", size)
	}
	return &Device{conn: conn, cs: cs, size: size}, nil
}

// Geometry implements flash.Device.
func (f *Device) Geometry() flash.Geometry {
	return flash.Geometry{Size: f.size, SectorSize: SectorSize, PageSize: PageSize}
}

// tx wraps SPI transaction with CS assertion.
func (f *Device) tx(buf []byte) (err error) {
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = f.conn.Tx(buf, buf)
	return
}

// ReadID returns the JEDEC ID of the chip and selects its timing parameters.
// It returns a non-empty name for known IDs.
func (f *Device) ReadID() (id [3]byte, name string, err error) {
	buf := make([]byte, 4)
	buf[0] = cmdReadID
	if err = f.tx(buf); err != nil {
		return
	}
	f.id = [3]byte(buf[1:])
	if params, ok := knownChips[f.id]; ok {
		f.pr = &params
		name = params.name
	}
	return f.id, name, nil
}

// Read implements flash.Device, splitting the read into multiple transactions
// to stay within the maximum transaction size.
func (f *Device) Read(address uint32, length int) ([]byte, error) {
	g := f.Geometry()
	if !g.Contains(address, length) {
		return nil, &flash.OutOfBoundsError{Address: address, Length: length, Geometry: g}
	}

	const (
		maxTx    = 65536
		cmdBytes = 4 // opRead + 24-bit address
		maxData  = maxTx - cmdBytes
	)

	out := make([]byte, length)
	off := 0
	addr := address
	for remaining := length; remaining > 0; {
		chunk := min(remaining, maxData)
		buf := make([]byte, cmdBytes+chunk)
		putCommand(buf, cmdRead, addr)
		if err := f.tx(buf); err != nil {
			return nil, &flash.DeviceError{Address: addr, Reason: "read", Err: err}
		}
		copy(out[off:], buf[cmdBytes:])
		addr += uint32(chunk)
		off += chunk
		remaining -= chunk
	}
	return out, nil
}

// EraseSector implements flash.Device with a 4KB subsector erase.
func (f *Device) EraseSector(address uint32) error {
	g := f.Geometry()
	if !g.Contains(address, 1) {
		return &flash.OutOfBoundsError{Address: address, Length: 1, Geometry: g}
	}
	if address%SectorSize != 0 {
		return &flash.AlignmentError{Address: address, Alignment: SectorSize, Reason: "sector erase address is not sector aligned"}
	}
	if err := f.writeEnable(); err != nil {
		return &flash.DeviceError{Address: address, Reason: "write enable", Err: err}
	}
	buf := make([]byte, 4)
	putCommand(buf, cmdErase4KB, address)
	if err := f.tx(buf); err != nil {
		return &flash.DeviceError{Address: address, Reason: "sector erase", Err: err}
	}
	if err := f.BusyWait(time.Millisecond, f.tErase4KB()); err != nil {
		return &flash.DeviceError{Address: address, Reason: "sector erase", Err: err}
	}
	return nil
}

// ProgramPage implements flash.Device. The chip itself would silently AND the
// data in, so the current content is read back first and any 0 to 1
// transition is refused before the page program command is sent.
func (f *Device) ProgramPage(address uint32, data []byte) error {
	g := f.Geometry()
	if !g.Contains(address, len(data)) {
		return &flash.OutOfBoundsError{Address: address, Length: len(data), Geometry: g}
	}
	if len(data) > PageSize {
		return &flash.AlignmentError{Address: address, Alignment: PageSize, Length: len(data), Reason: "data exceeds page size"}
	}
	if int(address%PageSize)+len(data) > PageSize {
		return &flash.AlignmentError{Address: address, Alignment: PageSize, Length: len(data), Reason: "data crosses a page boundary"}
	}
	if len(data) == 0 {
		return nil
	}

	current, err := f.Read(address, len(data))
	if err != nil {
		return err
	}
	for i, b := range data {
		if current[i]&b != b {
			return &flash.DeviceError{
				Address: address + uint32(i),
				Reason:  fmt.Sprintf("cannot program 0x%02X over 0x%02X", b, current[i]),
				Err:     flash.ErrProgrammingViolation,
			}
		}
	}

	if err := f.writeEnable(); err != nil {
		return &flash.DeviceError{Address: address, Reason: "write enable", Err: err}
	}
	buf := make([]byte, 4+len(data))
	putCommand(buf, cmdPageProgram, address)
	copy(buf[4:], data)
	if err := f.tx(buf); err != nil {
		return &flash.DeviceError{Address: address, Reason: "page program", Err: err}
	}
	if err := f.BusyWait(100*time.Microsecond, f.tPP()); err != nil {
		return &flash.DeviceError{Address: address, Reason: "page program", Err: err}
	}
	return nil
}

func (f *Device) writeEnable() error {
	return f.tx([]byte{cmdWriteEnable})
}

// ErrBusyTimeout is returned when the chip stays busy past the expected
// operation time.
var ErrBusyTimeout = errors.New("flash busy timeout")

// BusyWait polls the status register's bit 0 every interval until the chip is
// ready or timeout expires.
func (f *Device) BusyWait(interval, timeout time.Duration) error {
	// Fast path
	if sr, err := f.ReadStatusRegister(); err != nil {
		return err
	} else if !sr.Busy() {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			logrus.WithField("timeout", timeout).Warn("SPI NOR still busy")
			return ErrBusyTimeout
		case <-ticker.C:
			sr, err := f.ReadStatusRegister()
			if err != nil {
				return err
			}
			if !sr.Busy() {
				return nil
			}
		}
	}
}

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [N25Q32|Table 9]                     | [W25Q128|7.1 Status Registers]
//	----+--------------------------------------+-------------------------------
//	7   | Status register write enable/disable | SRP: Status Register Protect
//	1   | Write enable latch                   | WEL: Write Enable Latch
//	0   | Write in progress                    | BUSY: Erase/Write in progress
type StatusRegister byte

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&(1<<0) != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.StatusRegisterProtect() {
		s = append(s, "SRP")
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// ReadStatusRegister reads status register 1.
func (f *Device) ReadStatusRegister() (StatusRegister, error) {
	buf := []byte{cmdReadStatusRegister, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}

func putCommand(buf []byte, cmd byte, addr uint32) {
	buf[0] = cmd
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
}
