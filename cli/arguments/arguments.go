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

package arguments

import (
	"github.com/spf13/cobra"
)

// Flags contains the flags describing the image to work on.
// This is useful so all commands that need an image read it
// the same way.
type Flags struct {
	ImageFile    string
	ManifestFile string
	Address      uint32
}

// AddToCommand adds the image flags to the specified Command
func (f *Flags) AddToCommand(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.ImageFile, "input-file", "i", "", "Path of the firmware image, raw binary or Intel HEX")
	cmd.Flags().StringVarP(&f.ManifestFile, "manifest", "m", "", "Path of the YAML manifest shipped with the image")
	cmd.Flags().Uint32VarP(&f.Address, "address", "a", 0, "Flash address of a raw binary image, e.g.: 0x08000000 (default from config)")
}

// AddressChanged reports whether --address was given on the command line.
func (f *Flags) AddressChanged(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("address")
}
