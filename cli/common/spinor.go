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

package common

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/arduino/arduino-fwupdater/config"
	"github.com/arduino/arduino-fwupdater/flash/spinor"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// defaultSPIClock is used when the config does not set spi.clock_hz.
const defaultSPIClock = 30 * physic.MegaHertz // [AN_135 3.2.1 Divisors]

var hostInitialized atomic.Bool

// openSPINOR finds the first FT232H/FT2232H adapter and connects to the SPI
// NOR chip wired to its MPSSE port.
func openSPINOR(d config.Device) (*spinor.Device, func() error, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}

	ft, err := findFT232H()
	if err != nil {
		return nil, nil, err
	}
	cs, err := chipSelect(ft, d.SPI.ChipSelect)
	if err != nil {
		return nil, nil, err
	}

	port, err := ft.SPI()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get SPI port: %w", err)
	}
	clock := defaultSPIClock
	if d.SPI.ClockHz > 0 {
		clock = physic.Frequency(d.SPI.ClockHz) * physic.Hertz
	}
	// [FTDI AN_114|1.2] > FTDI device can only support mode 0 and mode 2 due to the limitation of MPSSE engine
	conn, err := port.Connect(clock, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, nil, err
	}

	dev, err := spinor.New(conn, cs, d.Size)
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	id, name, err := dev.ReadID()
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	logrus.Infof("Found flash %X (%s) on %s", id, name, ft)
	return dev, port.Close, nil
}

func findFT232H() (*ftdi.FT232H, error) {
	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if ft, ok := dev.(*ftdi.FT232H); ok {
			logrus.Debugf("using FTDI %04X:%04X", info.VenID, info.DevID)
			return ft, nil
		}
	}
	return nil, errors.New("no FT232H/FT2232H adapter found")
}

// chipSelect returns the adapter pin named in the config, ADBUS4 by default.
func chipSelect(ft *ftdi.FT232H, name string) (gpio.PinIO, error) {
	pins := map[string]gpio.PinIO{
		"D3": ft.D3, "D4": ft.D4, "D5": ft.D5, "D6": ft.D6, "D7": ft.D7,
		"C0": ft.C0, "C1": ft.C1, "C2": ft.C2, "C3": ft.C3,
		"C4": ft.C4, "C5": ft.C5, "C6": ft.C6, "C7": ft.C7,
	}
	if name == "" {
		name = "D4"
	}
	pin, ok := pins[name]
	if !ok {
		return nil, fmt.Errorf("unknown chip select pin %q", name)
	}
	return pin, nil
}
