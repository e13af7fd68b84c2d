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
	"fmt"

	"github.com/arduino/arduino-fwupdater/cli/arguments"
	"github.com/arduino/arduino-fwupdater/cli/feedback"
	"github.com/arduino/arduino-fwupdater/cli/globals"
	"github.com/arduino/arduino-fwupdater/config"
	"github.com/arduino/arduino-fwupdater/firmware"
	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/arduino/arduino-fwupdater/updater"
	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// LoadConfig reads the file given with --config, or returns the defaults
// when no file was given.
func LoadConfig() *config.Config {
	if globals.ConfigFile == "" {
		logrus.Debug("No config file given, using defaults")
		return config.Default()
	}
	path := paths.New(globals.ConfigFile)
	if !path.Exist() {
		feedback.Fatal(fmt.Sprintf("Config file not found: %s", path), feedback.ErrNoConfigFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		feedback.FatalError(err, feedback.ErrNoConfigFile)
	}
	return cfg
}

// OpenDevice opens the flash device bound in cfg. The returned function
// releases the device.
func OpenDevice(cfg *config.Config) (flash.Device, func()) {
	d := cfg.Device
	logrus.Debugf("opening %s device: %s", d.Type, d.Geometry())
	switch d.Type {
	case config.DeviceMock:
		dev, err := flash.NewMockDevice(d.Size, d.SectorSize, d.PageSize)
		if err != nil {
			feedback.Fatal(fmt.Sprintf("Error creating mock device: %s", err), feedback.ErrDevice)
		}
		return dev, func() {}
	case config.DeviceMapped:
		dev, err := flash.OpenMappedDevice(d.Path, d.Offset, d.Geometry())
		if err != nil {
			feedback.Fatal(fmt.Sprintf("Error mapping %s: %s", d.Path, err), feedback.ErrDevice)
		}
		return dev, func() {
			if err := dev.Close(); err != nil {
				logrus.Warn(err)
			}
		}
	case config.DeviceSPINOR:
		dev, closer, err := openSPINOR(d)
		if err != nil {
			feedback.Fatal(fmt.Sprintf("Error opening SPI flash: %s", err), feedback.ErrDevice)
		}
		return dev, func() {
			if err := closer(); err != nil {
				logrus.Warn(err)
			}
		}
	}
	feedback.Fatal(fmt.Sprintf("Unknown device type: %s", d.Type), feedback.ErrNoConfigFile)
	return nil, nil
}

// LoadImage reads the image named by the flags. The image address comes, by
// increasing priority, from the config, the image file itself (Intel HEX),
// the manifest and the --address flag.
func LoadImage(cmd *cobra.Command, flags *arguments.Flags, cfg *config.Config) (*firmware.Image, updater.Metadata) {
	if flags.ImageFile == "" {
		feedback.Fatal("Missing firmware image, use --input-file", feedback.ErrBadArgument)
	}
	imagePath := paths.New(flags.ImageFile)
	if !imagePath.Exist() {
		feedback.Fatal(fmt.Sprintf("Firmware file not found in %s", imagePath), feedback.ErrBadArgument)
	}
	img, err := firmware.Load(imagePath, cfg.Update.Target)
	if err != nil {
		feedback.Fatal(fmt.Sprintf("Error loading firmware: %s", err), feedback.ErrBadArgument)
	}

	manifest := &firmware.Manifest{}
	if flags.ManifestFile != "" {
		if manifest, err = firmware.LoadManifest(paths.New(flags.ManifestFile)); err != nil {
			feedback.FatalError(err, feedback.ErrBadArgument)
		}
		if err := manifest.Apply(img); err != nil {
			feedback.FatalError(err, feedback.ErrBadArgument)
		}
	}
	if flags.AddressChanged(cmd) {
		img.Address = flags.Address
	}
	meta := manifest.Metadata(img)
	logrus.Debugf("image: %s", meta)
	return img, meta
}
