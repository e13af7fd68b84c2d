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

package flash

import (
	"errors"
	"fmt"
)

var (
	// ErrProgrammingViolation is returned (wrapped in a DeviceError) when a
	// program operation would set a bit from 0 to 1, which means the target
	// sector was not erased first.
	ErrProgrammingViolation = errors.New("programming would set bits from 0 to 1, erase required")

	// ErrNotImplemented is returned (wrapped in a DeviceError) by devices
	// whose hardware erase/program sequence is not available.
	ErrNotImplemented = errors.New("not implemented")
)

// OutOfBoundsError is returned when an access falls outside the device.
type OutOfBoundsError struct {
	Address  uint32
	Length   int
	Geometry Geometry
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("address range 0x%08X+%d is out of bounds: device covers 0x%08X-0x%08X",
		e.Address, e.Length, e.Geometry.Base, e.Geometry.End())
}

// AlignmentError is returned when an access does not respect the sector or
// page granularity of the device.
type AlignmentError struct {
	Address   uint32
	Alignment uint32
	Length    int
	Reason    string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment error at 0x%08X (granularity %d, length %d): %s",
		e.Address, e.Alignment, e.Length, e.Reason)
}

// DeviceError is a generic hardware or driver failure.
type DeviceError struct {
	Address uint32
	Reason  string
	Err     error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device error at 0x%08X: %s", e.Address, e.Reason)
	}
	return fmt.Sprintf("device error at 0x%08X: %s: %s", e.Address, e.Reason, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// VerificationError reports the first byte that differs after programming.
// Offset is relative to the start of the verified range.
type VerificationError struct {
	Address  uint32
	Offset   uint32
	Expected byte
	Actual   byte
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed at 0x%08X (offset %d): expected 0x%02X, got 0x%02X",
		e.Address+e.Offset, e.Offset, e.Expected, e.Actual)
}
