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

package updater

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned by Begin when the image size is zero.
	ErrInvalidSize = errors.New("invalid image size")
	// ErrChecksumMismatch is matched by *ChecksumMismatchError.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrTransferIncomplete is matched by *TransferIncompleteError.
	ErrTransferIncomplete = errors.New("transfer incomplete")
	// ErrOffsetMismatch is matched by *OffsetMismatchError.
	ErrOffsetMismatch = errors.New("offset mismatch")
	// ErrSessionClosed is returned by any call on a finalized or aborted
	// session.
	ErrSessionClosed = errors.New("update session closed")
	// ErrDeviceBusy is returned by Begin when another session holds the
	// device.
	ErrDeviceBusy = errors.New("flash device already held by another update session")
	// ErrDeviceNotClaimable is returned by Begin when the device value cannot
	// identify a claim, e.g. a struct value holding a slice.
	ErrDeviceNotClaimable = errors.New("flash device cannot be claimed: not a comparable value")
)

// FlashError wraps a device level failure that occurred during an update.
// The device error is reachable through errors.Is and errors.As.
type FlashError struct {
	Op      string
	Address uint32
	Err     error
}

func (e *FlashError) Error() string {
	return fmt.Sprintf("update %s at 0x%08X: %s", e.Op, e.Address, e.Err)
}

func (e *FlashError) Unwrap() error {
	return e.Err
}

// ChecksumMismatchError is returned by Finalize when the CRC-32 of the
// written region differs from the expected one.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08X, got 0x%08X", e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// TransferIncompleteError is returned by Finalize before the whole image was
// written.
type TransferIncompleteError struct {
	Written   uint32
	ImageSize uint32
}

func (e *TransferIncompleteError) Error() string {
	return fmt.Sprintf("transfer incomplete: %d of %d bytes written", e.Written, e.ImageSize)
}

func (e *TransferIncompleteError) Is(target error) bool {
	return target == ErrTransferIncomplete
}

// OffsetMismatchError is returned by WriteChunk when a chunk does not start
// exactly where the previous one ended.
type OffsetMismatchError struct {
	Offset   uint32
	Expected uint32
}

func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("offset mismatch: chunk at offset %d, expected %d", e.Offset, e.Expected)
}

func (e *OffsetMismatchError) Is(target error) bool {
	return target == ErrOffsetMismatch
}

// ChunkOverflowError is returned by WriteChunk when a chunk would extend
// past the declared image size.
type ChunkOverflowError struct {
	Offset    uint32
	Length    int
	ImageSize uint32
}

func (e *ChunkOverflowError) Error() string {
	return fmt.Sprintf("chunk at offset %d with %d bytes exceeds image size %d", e.Offset, e.Length, e.ImageSize)
}
