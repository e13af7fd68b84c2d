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

// Package updater implements the firmware update session: a target region is
// erased once, filled by strictly sequential chunks and finally checked
// against the expected CRC-32.
package updater

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/arduino/arduino-fwupdater/flash"
	"github.com/arduino/arduino-fwupdater/flasher"
	"github.com/sirupsen/logrus"
)

// Metadata describes the image being installed.
type Metadata struct {
	TargetAddress    uint32 `json:"target_address" yaml:"target"`
	ImageSize        uint32 `json:"image_size" yaml:"size"`
	ExpectedChecksum uint32 `json:"expected_checksum" yaml:"checksum"`
}

func (m Metadata) String() string {
	return fmt.Sprintf("%d bytes at 0x%08X (crc32 0x%08X)", m.ImageSize, m.TargetAddress, m.ExpectedChecksum)
}

// State is the lifecycle stage of a Session.
type State int

const (
	// Begun is the state right after Begin, before any chunk.
	Begun State = iota
	// Writing is the state after at least one accepted chunk.
	Writing
	// Finalized is the state after a successful Finalize.
	Finalized
	// Failed is the state after a Finalize that returned an error.
	Failed
	// Aborted is the state after Abort.
	Aborted
)

func (s State) String() string {
	switch s {
	case Begun:
		return "begun"
	case Writing:
		return "writing"
	case Finalized:
		return "finalized"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// claims tracks the devices held by a live session.
var claims = struct {
	sync.Mutex
	held map[flash.Device]struct{}
}{held: map[flash.Device]struct{}{}}

func claim(dev flash.Device) (err error) {
	if dev == nil || !reflect.TypeOf(dev).Comparable() {
		return ErrDeviceNotClaimable
	}
	claims.Lock()
	defer claims.Unlock()
	// a comparable struct may still hold an unhashable value in an
	// interface field
	defer func() {
		if recover() != nil {
			err = ErrDeviceNotClaimable
		}
	}()
	if _, busy := claims.held[dev]; busy {
		return ErrDeviceBusy
	}
	claims.held[dev] = struct{}{}
	return nil
}

func release(dev flash.Device) {
	claims.Lock()
	defer claims.Unlock()
	delete(claims.held, dev)
}

// Option configures a Session.
type Option func(*Session)

// WithProgressCallback sets a callback invoked after every accepted chunk
// with the number of image bytes written so far and the image size.
func WithProgressCallback(callback func(written, total uint32)) Option {
	return func(s *Session) {
		s.progress = callback
	}
}

// WithLogger sets the logger used by the session.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Session) {
		s.log = log
	}
}

// Session is an in-progress update. It holds the device exclusively from
// Begin until Finalize or Abort.
type Session struct {
	flasher      *flasher.Flasher
	meta         Metadata
	bytesWritten uint32
	state        State
	progress     func(written, total uint32)
	log          *logrus.Entry
}

// Begin starts an update session on dev: it checks the metadata against the
// device geometry, claims the device and erases every sector covering the
// target region.
//
// The device value identifies the claim: a device that is not comparable
// (every implementation in this module is a pointer) is refused with
// ErrDeviceNotClaimable.
func Begin(dev flash.Device, meta Metadata, opts ...Option) (*Session, error) {
	s := &Session{
		flasher: flasher.New(dev),
		meta:    meta,
		log:     logrus.WithField("target", fmt.Sprintf("0x%08X", meta.TargetAddress)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if meta.ImageSize == 0 {
		s.log.Error(ErrInvalidSize)
		return nil, ErrInvalidSize
	}
	if g := dev.Geometry(); !g.Contains(meta.TargetAddress, int(meta.ImageSize)) {
		err := &flash.OutOfBoundsError{Address: meta.TargetAddress, Length: int(meta.ImageSize), Geometry: g}
		s.log.Error(err)
		return nil, &FlashError{Op: "begin", Address: meta.TargetAddress, Err: err}
	}
	if err := claim(dev); err != nil {
		s.log.Error(err)
		return nil, err
	}

	s.log.WithField("size", meta.ImageSize).Info("Erasing target region")
	if err := s.flasher.EraseRegion(meta.TargetAddress, int(meta.ImageSize)); err != nil {
		release(dev)
		return nil, &FlashError{Op: "erase", Address: meta.TargetAddress, Err: err}
	}
	s.state = Begun
	return s, nil
}

// Metadata returns the metadata the session was started with.
func (s *Session) Metadata() Metadata {
	return s.meta
}

// BytesWritten returns the number of image bytes accepted so far.
func (s *Session) BytesWritten() uint32 {
	return s.bytesWritten
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return s.state
}

func (s *Session) closed() bool {
	return s.state == Finalized || s.state == Failed || s.state == Aborted
}

// WriteChunk programs data at offset bytes from the target address. Chunks
// must arrive contiguously: offset has to equal BytesWritten. A rejected or
// failed chunk leaves the session usable, so the same chunk may be sent
// again.
func (s *Session) WriteChunk(offset uint32, data []byte) error {
	if s.closed() {
		return ErrSessionClosed
	}
	if offset != s.bytesWritten {
		err := &OffsetMismatchError{Offset: offset, Expected: s.bytesWritten}
		s.log.Error(err)
		return err
	}
	if uint64(offset)+uint64(len(data)) > uint64(s.meta.ImageSize) {
		err := &ChunkOverflowError{Offset: offset, Length: len(data), ImageSize: s.meta.ImageSize}
		s.log.Error(err)
		return err
	}

	address := s.meta.TargetAddress + offset
	s.log.WithField("offset", offset).WithField("length", len(data)).Debug("Writing chunk")
	if err := s.flasher.ProgramRegion(address, data); err != nil {
		return &FlashError{Op: "write", Address: address, Err: err}
	}
	s.bytesWritten += uint32(len(data))
	s.state = Writing
	if s.progress != nil {
		s.progress(s.bytesWritten, s.meta.ImageSize)
	}
	return nil
}

// Finalize checks that the whole image was written and that the CRC-32 of
// the target region matches the expected checksum. The session is consumed
// whatever the outcome and the device is released.
func (s *Session) Finalize() error {
	if s.closed() {
		return ErrSessionClosed
	}
	defer release(s.flasher.Device())

	if s.bytesWritten != s.meta.ImageSize {
		s.state = Failed
		err := &TransferIncompleteError{Written: s.bytesWritten, ImageSize: s.meta.ImageSize}
		s.log.Error(err)
		return err
	}
	crc, err := s.flasher.Checksum(s.meta.TargetAddress, int(s.meta.ImageSize))
	if err != nil {
		s.state = Failed
		return &FlashError{Op: "checksum", Address: s.meta.TargetAddress, Err: err}
	}
	if crc != s.meta.ExpectedChecksum {
		s.state = Failed
		err := &ChecksumMismatchError{Expected: s.meta.ExpectedChecksum, Actual: crc}
		s.log.Error(err)
		return err
	}
	s.state = Finalized
	s.log.WithField("crc32", fmt.Sprintf("0x%08X", crc)).Info("Update verified")
	return nil
}

// Abort abandons the session and releases the device. The target region is
// left as is. Aborting a closed session returns ErrSessionClosed.
func (s *Session) Abort() error {
	if s.closed() {
		return ErrSessionClosed
	}
	release(s.flasher.Device())
	s.state = Aborted
	s.log.WithField("written", s.bytesWritten).Warn("Update aborted")
	return nil
}
