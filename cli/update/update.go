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

package update

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arduino/arduino-fwupdater/boot"
	"github.com/arduino/arduino-fwupdater/cli/arguments"
	"github.com/arduino/arduino-fwupdater/cli/common"
	"github.com/arduino/arduino-fwupdater/cli/feedback"
	"github.com/arduino/arduino-fwupdater/firmware"
	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/arduino/arduino-fwupdater/updater"
	"github.com/arduino/go-paths-helper"
	"github.com/avast/retry-go"
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	imageFlags arguments.Flags
	retries    uint
	chunkSize  int
	dumpFile   string
)

// NewCommand creates a new `update` command
func NewCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "update",
		Short: "Installs a firmware image.",
		Long:  "Erases the target region, writes the image chunk by chunk and checks the CRC-32 of the result.",
		Example: "" +
			"  " + os.Args[0] + " update -i firmware.bin --address 0x08000000\n" +
			"  " + os.Args[0] + " update -i firmware.hex --retries 5\n" +
			"  " + os.Args[0] + " update -i firmware.bin -m firmware.yaml --dump written.hex\n",
		Args: cobra.NoArgs,
		Run:  runUpdate,
	}
	imageFlags.AddToCommand(command)
	command.Flags().UintVar(&retries, "retries", 0, "Number of attempts in case of update failure (default from config)")
	command.Flags().IntVar(&chunkSize, "chunk-size", 0, "Size of the chunks written to flash (default from config)")
	command.Flags().StringVar(&dumpFile, "dump", "", "Write the installed region to this Intel HEX file")
	return command
}

// Result is the outcome of an update.
type Result struct {
	Region   *boot.Region     `json:"region"`
	Metadata updater.Metadata `json:"metadata"`
	Version  string           `json:"version,omitempty"`
	Attempts uint             `json:"attempts"`
	Dump     string           `json:"dump,omitempty"`
}

func (r *Result) Data() interface{} {
	return r
}

func (r *Result) String() string {
	res := fmt.Sprintf("Installed %d bytes at 0x%08X, crc32 0x%08X", r.Metadata.ImageSize, r.Metadata.TargetAddress, r.Metadata.ExpectedChecksum)
	if r.Version != "" {
		res += ", version " + r.Version
	}
	if r.Dump != "" {
		res += "\nRegion dumped to " + r.Dump
	}
	return res
}

func runUpdate(cmd *cobra.Command, args []string) {
	cfg := common.LoadConfig()
	if cmd.Flags().Changed("retries") {
		cfg.Update.Retries = retries
	}
	if cmd.Flags().Changed("chunk-size") {
		cfg.Update.ChunkSize = chunkSize
	}
	if cfg.Update.Retries < 1 {
		feedback.Fatal("Number of retries should be at least 1", feedback.ErrBadArgument)
	}
	if cfg.Update.ChunkSize < 1 {
		feedback.Fatal("Chunk size should be at least 1", feedback.ErrBadArgument)
	}

	img, meta := common.LoadImage(cmd, &imageFlags, cfg)
	dev, closeDevice := common.OpenDevice(cfg)
	defer closeDevice()

	feedback.Printf("Installing %s", meta)
	res := &Result{Metadata: meta}
	if img.Version != nil {
		res.Version = img.Version.String()
	}
	err := retry.Do(
		func() error {
			res.Attempts++
			logrus.Infof("Uploading firmware (try %d of %d)", res.Attempts, cfg.Update.Retries)
			region, err := install(dev, cfg.Update.ChunkSize, img, meta)
			if err != nil {
				return err
			}
			res.Region = region
			return nil
		},
		retry.Attempts(cfg.Update.Retries),
		retry.Delay(time.Second),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			feedback.Errorf("Attempt %d failed: %s", n+1, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		logrus.Error(err)
		feedback.Fatal(fmt.Sprintf("Error during firmware update: %s", err), feedback.ErrUpdate)
	}

	if dumpFile != "" {
		if err := dump(dev, res.Region, paths.New(dumpFile)); err != nil {
			feedback.Fatal(fmt.Sprintf("Error dumping region: %s", err), feedback.ErrGeneric)
		}
		res.Dump = dumpFile
	}
	logrus.Info("Operation completed: success! :-)")
	feedback.Successf("Update verified")
	feedback.PrintResult(res)
}

// install runs one full session. Every attempt starts from scratch: Begin
// erases the region again. The update is always pending, so the loader
// returns the region just written and needs no application region.
func install(dev flash.Device, chunkSize int, img *firmware.Image, meta updater.Metadata) (*boot.Region, error) {
	opts := []updater.Option{updater.WithLogger(logrus.WithField("image", img.Path))}
	var bar *progressbar.ProgressBar
	if feedback.GetFormat() == feedback.Text {
		bar = newBar(int(meta.ImageSize))
		opts = append(opts, updater.WithProgressCallback(func(written, _ uint32) {
			bar.Set(int(written))
		}))
	}
	loader := boot.New(dev, boot.Region{}, boot.WithChunkSize(chunkSize), boot.WithSessionOptions(opts...))
	region, err := loader.Run(boot.DefaultHardware(), &boot.Pending{Metadata: meta, Image: img.Reader()})
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	return region, err
}

func newBar(length int) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription("[cyan]flashing[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// retryable reports whether a new session could succeed where the last one
// failed. Errors about the request itself are final.
func retryable(err error) bool {
	var oob *flash.OutOfBoundsError
	var align *flash.AlignmentError
	var initErr *boot.InitError
	switch {
	case errors.Is(err, updater.ErrInvalidSize),
		errors.Is(err, updater.ErrDeviceBusy),
		errors.Is(err, updater.ErrDeviceNotClaimable),
		errors.Is(err, flash.ErrNotImplemented),
		errors.As(err, &oob),
		errors.As(err, &align),
		errors.As(err, &initErr):
		return false
	}
	return true
}

func dump(dev flash.Device, region *boot.Region, path *paths.Path) error {
	data, err := dev.Read(region.Address, int(region.Size))
	if err != nil {
		return err
	}
	logrus.Debugf("dumping region %s to %s", region, path)
	f, err := path.Create()
	if err != nil {
		return err
	}
	defer f.Close()
	return firmware.DumpHex(f, region.Address, data)
}
