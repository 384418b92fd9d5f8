// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"sort"

	"github.com/u-root/u-pcie/config"
)

// Board is a reference board and the PCIe controllers it wires up.
type Board struct {
	Name        string
	Variant     Variant
	Controllers []config.Controller
}

// s32ccPCIe is the register layout shared by both controllers of an S32
// part. base is the DBI address, serdes the SerDes block of the same
// controller and hi the upper half of its 64-bit outbound space.
func s32ccPCIe(id int, base, serdes, hi uint64) config.Controller {
	return config.Controller{
		ID:            id,
		Name:          fmt.Sprintf("pcie@%x", base),
		Role:          config.RootComplex,
		MaxSpeed:      config.Gen3,
		PhyMode:       config.CRNS,
		SerdesPresent: true,
		Lanes:         2,
		Ctrl:          config.Window{Base: serdes + 0x3000, Size: 0x2000},
		DBI:           config.Window{Base: base, Size: 0x1000},
		DBI2:          config.Window{Base: base + 0x20000, Size: 0x1000},
		ATU:           config.Window{Base: base + 0x40000, Size: 0x10000},
		Coherency:     config.Window{Base: serdes + 0x2000, Size: 0x100},
		Config:        config.Window{Base: hi + 0x7ffff0000, Size: 0x10000},
		SerDes: [2]config.Window{
			{Base: serdes, Size: 0x100},
			{Base: serdes + 0x1000, Size: 0x100},
		},
		Regions: []config.Region{
			{Kind: config.IO, PhysBase: hi + 0x7fffe0000, BusBase: 0, Size: 0x10000},
			{Kind: config.Mem, PhysBase: hi, BusBase: 0, Size: 0x80000000},
			{Kind: config.PrefetchMem, PhysBase: hi + 0x80000000, BusBase: 0x80000000, Size: 0x80000000},
		},
	}
}

func pcie0() config.Controller {
	return s32ccPCIe(0, 0x40400000, 0x40480000, 0x5800000000)
}

func pcie1() config.Controller {
	return s32ccPCIe(1, 0x44100000, 0x44180000, 0x4800000000)
}

var boards = map[string]func() Board{
	"s32g274a-rdb2": func() Board {
		p0, p1 := pcie0(), pcie1()
		p0.DeviceID = 0x4002
		p1.DeviceID = 0x4002
		p1.Lanes = 1
		// The M.2 slot runs from the on-board clock generator.
		p1.PhyMode = config.SRNS
		p1.ExternalClock = true
		return Board{Name: "s32g274a-rdb2", Variant: S32G274A, Controllers: []config.Controller{p0, p1}}
	},
	"s32g399a-rdb3": func() Board {
		p0, p1 := pcie0(), pcie1()
		p0.DeviceID = 0x4300
		p1.DeviceID = 0x4300
		p1.Lanes = 1
		p1.MaxSpeed = config.Gen2
		return Board{Name: "s32g399a-rdb3", Variant: S32G399A, Controllers: []config.Controller{p0, p1}}
	},
	"s32r45-evb": func() Board {
		p0, p1 := pcie0(), pcie1()
		p0.DeviceID = 0x4240
		// SerDes 1 is dedicated to Ethernet on this board.
		p1.SerdesPresent = false
		return Board{Name: "s32r45-evb", Variant: S32R455A, Controllers: []config.Controller{p0, p1}}
	},
}

// LookupBoard returns the built-in description of the named board. Each
// call returns a fresh copy the caller may change.
func LookupBoard(name string) (Board, error) {
	b, ok := boards[name]
	if !ok {
		return Board{}, fmt.Errorf("unknown board %q", name)
	}
	return b(), nil
}

// Boards lists the built-in board names.
func Boards() []string {
	names := make([]string, 0, len(boards))
	for n := range boards {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
