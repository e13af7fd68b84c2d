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

package verify

import (
	"fmt"
	"os"
	"strings"

	"github.com/arduino/arduino-fwupdater/cli/arguments"
	"github.com/arduino/arduino-fwupdater/cli/common"
	"github.com/arduino/arduino-fwupdater/cli/feedback"
	"github.com/arduino/arduino-fwupdater/flasher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// maxReported caps the mismatches printed in text mode.
const maxReported = 16

var (
	imageFlags arguments.Flags
	firstOnly  bool
)

// NewCommand creates a new `verify` command
func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "verify",
		Short: "Compares the flash content with a firmware image.",
		Long:  "Reads back the target region, compares it byte by byte with the image and checks its CRC-32.",
		Example: "" +
			"  " + os.Args[0] + " verify -i firmware.bin --address 0x08000000\n" +
			"  " + os.Args[0] + " verify -i firmware.hex --first-only\n",
		Args: cobra.NoArgs,
		Run:  runVerify,
	}
	imageFlags.AddToCommand(command)
	command.Flags().BoolVar(&firstOnly, "first-only", false, "Stop at the first differing byte")
	return command
}

// Result is the outcome of a verification.
type Result struct {
	Address          uint32              `json:"address"`
	Comparison       *flasher.Comparison `json:"comparison"`
	Checksum         uint32              `json:"checksum"`
	ExpectedChecksum uint32              `json:"expected_checksum"`
}

// OK reports whether both the bytes and the checksum match.
func (r *Result) OK() bool {
	return r.Comparison.Match && r.Checksum == r.ExpectedChecksum
}

func (r *Result) Data() interface{} {
	return r
}

func (r *Result) String() string {
	return fmt.Sprintf("Compared %d bytes at 0x%08X, crc32 0x%08X (expected 0x%08X)",
		r.Comparison.Compared, r.Address, r.Checksum, r.ExpectedChecksum)
}

func (r *Result) ErrorString() string {
	if r.OK() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Verification failed: %d differing bytes", len(r.Comparison.Mismatches))
	for i, m := range r.Comparison.Mismatches {
		if i == maxReported {
			fmt.Fprintf(&b, "\n  ... %d more", len(r.Comparison.Mismatches)-maxReported)
			break
		}
		fmt.Fprintf(&b, "\n  0x%08X: expected 0x%02X, got 0x%02X", r.Address+m.Offset, m.Expected, m.Actual)
	}
	if r.Checksum != r.ExpectedChecksum && r.Comparison.Match {
		b.WriteString("\n  checksum differs from the manifest")
	}
	return b.String()
}

func runVerify(cmd *cobra.Command, args []string) {
	cfg := common.LoadConfig()
	img, meta := common.LoadImage(cmd, &imageFlags, cfg)
	dev, closeDevice := common.OpenDevice(cfg)
	defer closeDevice()

	f := flasher.New(dev)
	cmp, err := f.CompareBytes(meta.TargetAddress, img.Data, firstOnly)
	if err != nil {
		feedback.Fatal(fmt.Sprintf("Error reading flash: %s", err), feedback.ErrDevice)
	}
	crc, err := f.Checksum(meta.TargetAddress, int(meta.ImageSize))
	if err != nil {
		feedback.Fatal(fmt.Sprintf("Error reading flash: %s", err), feedback.ErrDevice)
	}

	res := &Result{
		Address:          meta.TargetAddress,
		Comparison:       cmp,
		Checksum:         crc,
		ExpectedChecksum: meta.ExpectedChecksum,
	}
	if !res.OK() {
		logrus.Warnf("verification of %s failed", img.Path)
		feedback.FatalResult(res, feedback.ErrUpdate)
	}
	feedback.Successf("Flash content matches the image")
	feedback.PrintResult(res)
}
