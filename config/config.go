// Copyright 2018-2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"strings"
)

type Version struct {
	Version string
	GitHash string
}

type Config struct {
	// Board selects the built-in controller set from pkg/platform.
	Board string
	// DeviceTree, when set, is a flattened device tree describing the
	// controllers. It takes precedence over Board.
	DeviceTree string
	// Memory is the physical memory device registers are mapped from.
	Memory string
	// Metrics is the listen address for the Prometheus endpoint, empty
	// disables it.
	Metrics string
	Debug   bool
	Version Version
}

var DefaultConfig = &Config{
	Board:  "s32g274a-rdb2",
	Memory: "/dev/mem",
	Version: Version{
		Version: gitVersion,
		GitHash: gitHash,
	},
}

var (
	gitVersion = "dev"
	gitHash    = "unknown"
)

// Speed is a PCIe link generation.
type Speed int

const (
	Gen1 Speed = iota + 1
	Gen2
	Gen3
)

func (s Speed) Valid() bool {
	return s >= Gen1 && s <= Gen3
}

func (s Speed) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Gen?(%d)", int(s))
	}
	return fmt.Sprintf("Gen%d", int(s))
}

// PhyMode is the reference clock arrangement between the link partners.
type PhyMode int

const (
	// CRNS is common reference clock, no spread spectrum.
	CRNS PhyMode = iota
	// CRSS is common reference clock with spread spectrum.
	CRSS
	// SRNS is separate reference clocks, no spread spectrum.
	SRNS
	// SRIS is separate reference clocks with independent spread spectrum.
	SRIS
)

var phyModeNames = map[PhyMode]string{
	CRNS: "crns",
	CRSS: "crss",
	SRNS: "srns",
	SRIS: "sris",
}

func (m PhyMode) String() string {
	if s, ok := phyModeNames[m]; ok {
		return strings.ToUpper(s)
	}
	return fmt.Sprintf("PhyMode(%d)", int(m))
}

// SeparateReference is true for modes where each side has its own clock.
func (m PhyMode) SeparateReference() bool {
	return m == SRNS || m == SRIS
}

// SpreadSpectrum is true for modes that enable SSC on the reference.
func (m PhyMode) SpreadSpectrum() bool {
	return m == CRSS || m == SRIS
}

// ParsePhyMode accepts the lower case device tree spelling.
func ParsePhyMode(s string) (PhyMode, bool) {
	for m, n := range phyModeNames {
		if n == s {
			return m, true
		}
	}
	return CRNS, false
}

type Role int

const (
	RootComplex Role = iota
	Endpoint
)

func (r Role) String() string {
	if r == Endpoint {
		return "EndPoint"
	}
	return "RootComplex"
}

// RegionKind is what a translation window maps. The order of the constants
// is the order windows are programmed in.
type RegionKind int

const (
	ConfigLower RegionKind = iota
	ConfigUpper
	IO
	Mem
	PrefetchMem
)

var regionKindNames = []string{"cfg0", "cfg1", "io", "mem", "pref"}

func (k RegionKind) String() string {
	if k < 0 || int(k) >= len(regionKindNames) {
		return fmt.Sprintf("RegionKind(%d)", int(k))
	}
	return regionKindNames[k]
}

// Region maps Size bytes of CPU address space at PhysBase to the bus
// address BusBase.
type Region struct {
	Kind     RegionKind
	PhysBase uint64
	BusBase  uint64
	Size     uint64
}

func (r Region) String() string {
	return fmt.Sprintf("%s %#x -> %#x (%#x)", r.Kind, r.PhysBase, r.BusBase, r.Size)
}

// Window is the physical location of a register block.
type Window struct {
	Base uint64
	Size uint32
}

// Controller is everything needed to bring up one PCIe controller. It is
// built once, from the platform defaults or the device tree, and not
// changed afterwards.
type Controller struct {
	ID   int
	Name string
	Role Role
	// MaxSpeed is the fastest generation the link may negotiate.
	MaxSpeed Speed
	PhyMode  PhyMode
	// ExternalClock is set when the SerDes reference comes from a pad
	// rather than the internal clock.
	ExternalClock bool
	SerdesPresent bool
	// Lanes is 1 or 2. Lane 0 is mandatory, lane 1 optional.
	Lanes   int
	RootBus uint8
	// DeviceID is written as the PCI device ID when non-zero.
	DeviceID uint16

	Ctrl      Window
	DBI       Window
	DBI2      Window
	ATU       Window
	Coherency Window
	// Config is the outbound configuration window, split in two halves
	// for type 0 and type 1 accesses.
	Config Window
	// SerDes holds the PHY register block of each lane.
	SerDes [2]Window

	// Regions are the I/O and memory apertures behind the root port.
	Regions []Region
}

// Validate checks the controller description for things that would make
// bring-up touch the wrong memory.
func (c *Controller) Validate() error {
	if c.ID < 0 {
		return fmt.Errorf("pcie%d: invalid id", c.ID)
	}
	for name, w := range map[string]Window{
		"ctrl":   c.Ctrl,
		"dbi":    c.DBI,
		"atu":    c.ATU,
		"config": c.Config,
	} {
		if w.Base == 0 || w.Size == 0 {
			return fmt.Errorf("pcie%d: resource '%s' not found", c.ID, name)
		}
	}
	if c.Lanes < 1 || c.Lanes > 2 {
		return fmt.Errorf("pcie%d: %d lanes not supported", c.ID, c.Lanes)
	}
	for i := 0; i < c.Lanes; i++ {
		if c.SerDes[i].Size == 0 {
			return fmt.Errorf("pcie%d: no SerDes registers for lane %d", c.ID, i)
		}
	}
	if c.Config.Size%2 != 0 {
		return fmt.Errorf("pcie%d: config window size %#x is odd", c.ID, c.Config.Size)
	}
	seen := map[RegionKind]bool{}
	for _, r := range c.Regions {
		if r.Kind == ConfigLower || r.Kind == ConfigUpper {
			return fmt.Errorf("pcie%d: config regions are derived from the config window", c.ID)
		}
		if seen[r.Kind] {
			return fmt.Errorf("pcie%d: more than one %s region", c.ID, r.Kind)
		}
		seen[r.Kind] = true
	}
	return nil
}

// ConfigRegions splits the config window into the lower (CFG0) and upper
// (CFG1) halves. Both map to bus address 0; the target bus is programmed
// per access.
func (c *Controller) ConfigRegions() []Region {
	half := uint64(c.Config.Size / 2)
	return []Region{
		{Kind: ConfigLower, PhysBase: c.Config.Base, Size: half},
		{Kind: ConfigUpper, PhysBase: c.Config.Base + half, Size: half},
	}
}
