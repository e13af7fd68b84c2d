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

package checksum

import (
	"fmt"
	"os"

	"github.com/arduino/arduino-fwupdater/cli/common"
	"github.com/arduino/arduino-fwupdater/cli/feedback"
	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/arduino/arduino-fwupdater/flasher"
	"github.com/spf13/cobra"
)

var (
	address uint32
	length  uint32
	expect  uint32
)

// NewCommand creates a new `checksum` command
func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "checksum",
		Short: "Computes the CRC-32 of a flash region.",
		Long:  "Computes the CRC-32 (IEEE) of a flash region, optionally comparing it with an expected value.",
		Example: "" +
			"  " + os.Args[0] + " checksum --address 0x08000000 --length 65536\n" +
			"  " + os.Args[0] + " checksum -a 0 -l 1024 --expect 0xCBF43926\n",
		Args: cobra.NoArgs,
		Run:  runChecksum,
	}
	command.Flags().Uint32VarP(&address, "address", "a", 0, "Start address of the region")
	command.Flags().Uint32VarP(&length, "length", "l", 0, "Length of the region (default up to the end of the device)")
	command.Flags().Uint32Var(&expect, "expect", 0, "Expected CRC-32, the command fails when it differs")
	return command
}

// Result is a computed checksum.
type Result struct {
	Address  uint32  `json:"address"`
	Length   uint32  `json:"length"`
	Checksum uint32  `json:"checksum"`
	Expected *uint32 `json:"expected,omitempty"`
}

func (r *Result) Data() interface{} {
	return r
}

func (r *Result) String() string {
	return fmt.Sprintf("0x%08X+%d: crc32 0x%08X", r.Address, r.Length, r.Checksum)
}

func (r *Result) ErrorString() string {
	if r.Expected == nil || *r.Expected == r.Checksum {
		return ""
	}
	return fmt.Sprintf("Checksum mismatch: expected 0x%08X", *r.Expected)
}

func runChecksum(cmd *cobra.Command, args []string) {
	cfg := common.LoadConfig()
	dev, closeDevice := common.OpenDevice(cfg)
	defer closeDevice()

	if !cmd.Flags().Changed("address") {
		address = dev.Geometry().Base
	}
	if !cmd.Flags().Changed("length") {
		end := dev.Geometry().End()
		if uint64(address) < end {
			length = uint32(end - uint64(address))
		}
	}

	var expected *uint32
	if cmd.Flags().Changed("expect") {
		expected = &expect
	}
	res, err := checksumRegion(dev, address, length, expected)
	if err != nil {
		feedback.FatalError(fmt.Errorf("reading flash: %w", err), feedback.ErrDevice)
	}
	if res.ErrorString() != "" {
		feedback.FatalResult(res, feedback.ErrUpdate)
	}
	feedback.PrintResult(res)
}

// checksumRegion computes the CRC-32 of the region in a single pass and
// records the expected value, if any, for comparison.
func checksumRegion(dev flash.Device, address, length uint32, expected *uint32) (*Result, error) {
	crc, err := flasher.New(dev).Checksum(address, int(length))
	if err != nil {
		return nil, err
	}
	return &Result{Address: address, Length: length, Checksum: crc, Expected: expected}, nil
}
