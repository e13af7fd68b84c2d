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

// Package config holds the configuration of the updater: the flash device
// binding and the parameters of an update.
package config

import (
	"errors"
	"fmt"

	"github.com/arduino/arduino-fwupdater/boot"
	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Supported device types.
const (
	DeviceMock   = "mock"
	DeviceMapped = "mapped"
	DeviceSPINOR = "spi-nor"
)

// SPI is the bus configuration of a spi-nor device.
type SPI struct {
	// ClockHz is the bus clock, 0 selects the adapter default.
	ClockHz int64 `yaml:"clock_hz"`
	// ChipSelect names the GPIO driving the chip select line.
	ChipSelect string `yaml:"chip_select"`
}

// Device binds the updater to a flash device.
type Device struct {
	Type       string `yaml:"type"`
	Base       uint32 `yaml:"base"`
	Size       uint32 `yaml:"size"`
	SectorSize uint32 `yaml:"sector_size"`
	PageSize   uint32 `yaml:"page_size"`
	// Path and Offset locate the window of a mapped device.
	Path   string `yaml:"path"`
	Offset int64  `yaml:"offset"`
	SPI    SPI    `yaml:"spi"`
}

// Geometry returns the flash geometry described by the binding.
func (d Device) Geometry() flash.Geometry {
	return flash.Geometry{Base: d.Base, Size: d.Size, SectorSize: d.SectorSize, PageSize: d.PageSize}
}

// Update holds the parameters of an update run.
type Update struct {
	ChunkSize int    `yaml:"chunk_size"`
	Retries   uint   `yaml:"retries"`
	Target    uint32 `yaml:"target"`
}

// Config is the content of the configuration file.
type Config struct {
	Device Device `yaml:"device"`
	Update Update `yaml:"update"`
}

// Default returns the configuration used when no file is given: a 128 KiB
// in-memory device with 1 KiB sectors and 256 byte pages.
func Default() *Config {
	return &Config{
		Device: Device{
			Type:       DeviceMock,
			Size:       128 << 10,
			SectorSize: 1024,
			PageSize:   256,
		},
		Update: Update{
			ChunkSize: 1024,
			Retries:   3,
		},
	}
}

// DefaultFor returns the defaults of a device type. A mapped device binds
// the application slot of the boot loader and targets its start.
func DefaultFor(deviceType string) *Config {
	cfg := Default()
	if deviceType == DeviceMapped {
		cfg.Device.Type = DeviceMapped
		cfg.Device.Base = boot.DefaultApplicationAddress
		cfg.Device.Size = boot.DefaultApplicationSize
		cfg.Update.Target = boot.DefaultApplicationAddress
	}
	return cfg
}

// Load reads the configuration at path. Values missing from the file keep
// the default of the configured device type.
func Load(path *paths.Path) (*Config, error) {
	data, err := path.ReadFile()
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var head struct {
		Device struct {
			Type string `yaml:"type"`
		} `yaml:"device"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg := DefaultFor(head.Device.Type)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	logrus.WithField("path", path).WithField("device", cfg.Device.Type).Debug("Loaded configuration")
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Device.Type {
	case DeviceMock:
		if c.Device.Base != 0 {
			return errors.New("a mock device always starts at address 0")
		}
	case DeviceMapped:
		if c.Device.Path == "" {
			return errors.New("a mapped device needs a path")
		}
	case DeviceSPINOR:
		if c.Device.Base != 0 {
			return errors.New("a spi-nor device always starts at address 0")
		}
	default:
		return fmt.Errorf("unknown device type %q", c.Device.Type)
	}
	if err := c.Device.Geometry().Validate(); err != nil {
		return err
	}
	if c.Update.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", c.Update.ChunkSize)
	}
	return nil
}
