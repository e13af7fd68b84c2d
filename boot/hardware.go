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

package boot

import "fmt"

// DefaultClockSpeedHz is the core clock the boot sequence expects once the
// clock tree is configured.
const DefaultClockSpeedHz = 48_000_000

// Stage identifies the initialization step that did not complete.
type Stage int

const (
	StageClockConfig Stage = iota
	StageFlashConfig
	StagePeripheralInit
	StageOther
)

func (s Stage) String() string {
	switch s {
	case StageClockConfig:
		return "clock configuration"
	case StageFlashConfig:
		return "flash configuration"
	case StagePeripheralInit:
		return "peripheral initialization"
	}
	return "other"
}

// InitError is returned when the hardware is not ready for a boot.
type InitError struct {
	Stage  Stage
	Reason string
}

func (e *InitError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("hardware init failed: %s", e.Stage)
	}
	return fmt.Sprintf("hardware init failed: %s: %s", e.Stage, e.Reason)
}

// Hardware is the readiness report of the platform layer.
type Hardware struct {
	ClockSpeedHz     uint32
	FlashReady       bool
	PeripheralsReady bool
	// Fault reports a platform failure outside the other steps, such as a
	// watchdog reset during init.
	Fault string
}

// DefaultHardware returns the report of a fully initialized board.
func DefaultHardware() Hardware {
	return Hardware{
		ClockSpeedHz:     DefaultClockSpeedHz,
		FlashReady:       true,
		PeripheralsReady: true,
	}
}

// Ready returns an *InitError naming the first step that is not complete.
func (h Hardware) Ready() error {
	if h.ClockSpeedHz == 0 {
		return &InitError{Stage: StageClockConfig, Reason: "core clock not running"}
	}
	if !h.FlashReady {
		return &InitError{Stage: StageFlashConfig}
	}
	if !h.PeripheralsReady {
		return &InitError{Stage: StagePeripheralInit}
	}
	if h.Fault != "" {
		return &InitError{Stage: StageOther, Reason: h.Fault}
	}
	return nil
}
