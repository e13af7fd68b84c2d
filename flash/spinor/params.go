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

package spinor

import "time"

type chipParams struct {
	name string

	tPP       time.Duration
	tErase4KB time.Duration
}

var (
	chipIDMicronN25Q32   = [3]byte{0x20, 0xBA, 0x16}
	chipIDWinbondW25Q128 = [3]byte{0xEF, 0x70, 0x18}
)

var knownChips = map[[3]byte]chipParams{
	chipIDMicronN25Q32: {
		name: "Micron N25Q 32Mb",

		// [N25Q32|Table 38: AC Characteristics and Operating Conditions]
		// tPP: PAGE PROGRAM cycle time (256 bytes)
		tPP: 5 * time.Millisecond,
		// tSSE: Subsector ERASE cycle time
		tErase4KB: 800 * time.Millisecond,
	},

	chipIDWinbondW25Q128: {
		name: "Winbond W25Q 128Mb",

		// [W25Q128|9.6 AC Electrical Characteristics]:
		// tPP: Page Program Time
		tPP: 3 * time.Millisecond,
		// tSE: Sector Erase Time (4KB)
		tErase4KB: 400 * time.Millisecond,
	},
}

// paramOrMax returns the parameter of the identified chip, or the largest
// value among the known chips when ReadID was not called or the chip is
// unknown.
func (f *Device) paramOrMax(get func(*chipParams) time.Duration) time.Duration {
	if f.pr != nil {
		return get(f.pr)
	}
	var tmax time.Duration
	for _, param := range knownChips {
		tmax = max(tmax, get(&param))
	}
	return tmax
}

func (f *Device) tPP() time.Duration {
	return f.paramOrMax(func(p *chipParams) time.Duration { return p.tPP })
}

func (f *Device) tErase4KB() time.Duration {
	return f.paramOrMax(func(p *chipParams) time.Duration { return p.tErase4KB })
}
