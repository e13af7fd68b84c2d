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

// Package boot ties the update session to the boot sequence: once the
// hardware reports ready, an optional pending update is installed and the
// region holding a known-valid application is returned. Transferring control
// to that region is left to the caller.
package boot

import (
	"errors"
	"fmt"
	"io"

	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/arduino/arduino-fwupdater/updater"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultApplicationAddress is where the application image lives.
	DefaultApplicationAddress = 0x08000000
	// DefaultApplicationSize is the size of the application slot.
	DefaultApplicationSize = 64 << 10
	// DefaultChunkSize is the size of the chunks fed to the update session.
	DefaultChunkSize = 1024
)

// Region is a span of flash holding an application image.
type Region struct {
	Address uint32 `json:"address"`
	Size    uint32 `json:"size"`
}

func (r Region) String() string {
	return fmt.Sprintf("0x%08X+%d", r.Address, r.Size)
}

// Pending is an update waiting to be installed.
type Pending struct {
	Metadata updater.Metadata
	Image    io.Reader
}

// Loader runs the boot sequence against a flash device.
type Loader struct {
	dev       flash.Device
	app       Region
	chunkSize int
	opts      []updater.Option
}

// Option configures a Loader.
type Option func(*Loader)

// WithChunkSize sets the size of the chunks read from a pending image.
func WithChunkSize(size int) Option {
	return func(l *Loader) {
		if size > 0 {
			l.chunkSize = size
		}
	}
}

// WithSessionOptions forwards options to every update session.
func WithSessionOptions(opts ...updater.Option) Option {
	return func(l *Loader) {
		l.opts = append(l.opts, opts...)
	}
}

// New returns a Loader booting the application in app.
func New(dev flash.Device, app Region, opts ...Option) *Loader {
	l := &Loader{dev: dev, app: app, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run checks the hardware and, when pending is not nil, installs the update.
// It returns the region to boot: the configured application region when no
// update is pending, or the region just written and verified. On any failure
// no region is returned.
func (l *Loader) Run(hw Hardware, pending *Pending) (*Region, error) {
	if err := hw.Ready(); err != nil {
		logrus.Error(err)
		return nil, err
	}
	logrus.WithField("clock", hw.ClockSpeedHz).Debug("Hardware ready")

	if pending == nil {
		logrus.Infof("No pending update, booting %s", l.app)
		app := l.app
		return &app, nil
	}
	if pending.Image == nil {
		return nil, errors.New("pending update without image")
	}

	meta := pending.Metadata
	logrus.Infof("Installing update: %s", meta)
	session, err := updater.Begin(l.dev, meta, l.opts...)
	if err != nil {
		return nil, err
	}
	if err := l.stream(session, pending.Image); err != nil {
		session.Abort()
		return nil, err
	}
	if err := session.Finalize(); err != nil {
		return nil, err
	}
	return &Region{Address: meta.TargetAddress, Size: meta.ImageSize}, nil
}

func (l *Loader) stream(session *updater.Session, image io.Reader) error {
	size := session.Metadata().ImageSize
	buf := make([]byte, l.chunkSize)
	for session.BytesWritten() < size {
		want := min(uint32(len(buf)), size-session.BytesWritten())
		n, err := io.ReadFull(image, buf[:want])
		if n > 0 {
			if werr := session.WriteChunk(session.BytesWritten(), buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// the session reports the short transfer on Finalize
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading update image: %w", err)
		}
	}
	return nil
}
