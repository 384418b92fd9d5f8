// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcie

import "github.com/u-root/u-pcie/pkg/hardware/regs"

// Register window names.
const (
	WinCtrl      = "ctrl"
	WinDBI       = "dbi"
	WinDBI2      = "dbi2"
	WinATU       = "atu"
	WinCoherency = "coherency"
	WinConfig    = "config"
	WinLane0     = "serdes_lane0"
	WinLane1     = "serdes_lane1"
)

// Controller glue registers (ctrl window).
const (
	GenCtrl1 = 0x50
	GenCtrl3 = 0x58
	LinkDbg2 = 0xb4

	// GenCtrl1
	DeviceTypeMask = 0xf
	DeviceTypeRC   = 0x4
	DeviceTypeEP   = 0x0
	SRISMode       = 1 << 8

	// GenCtrl3
	LTSSMEnable = 1 << 0

	// LinkDbg2
	LTSSMStateMask = 0x3f
	LTSSMStateL0   = 0x11
	SMLHLinkUp     = 1 << 6
	RDLHLinkUp     = 1 << 7
	LinkUpMask     = SMLHLinkUp | RDLHLinkUp | LTSSMStateMask
	LinkUpExpect   = SMLHLinkUp | RDLHLinkUp | LTSSMStateL0
)

// DBI registers beyond the standard header.
const (
	VendorFreescale = 0x1957

	CmdIO          = 1 << 0
	CmdMemory      = 1 << 1
	CmdBusMaster   = 1 << 2
	CmdParity      = 1 << 6
	CmdSERR        = 1 << 8
	CmdINTxDisable = 1 << 10

	// Offsets inside the PCI Express capability.
	ExpLinkCap    = 0x0c
	ExpLinkStatus = 0x12

	LinkCapSpeedMask     = 0xf
	LinkStatusSpeedMask  = 0xf
	LinkStatusWidthMask  = 0x3f0
	LinkStatusWidthShift = 4

	// Device control/status of the RC's own capability.
	DevCtl            = 0x78
	DevCtlCorrErr     = 1 << 0
	DevCtlNonFatalErr = 1 << 1
	DevCtlFatalErr    = 1 << 2
	DevCtlURErr       = 1 << 3
	DevCtlRelaxedOrd  = 1 << 4
	DevCtlPayloadMask = 0x7 << 5
	DevCtlPayload256  = 0x1 << 5
	DevCtlReadReqMask = 0x7 << 12
	DevCtlReadReq256  = 0x1 << 12

	PortForce        = 0x708
	DeskewForSRIS    = 1 << 23
	SymbolTimerFlt1  = 0x71c
	FltMaskMsgDrop   = 1 << 29
	LinkWidthSpeed   = 0x80c
	SpeedChange      = 1 << 17
	Gen3Related      = 0x890
	EqPhase23        = 1 << 9
	Gen3EqControl    = 0x8a8
	EqFBModeMask     = 0xf
	EqFBMode         = 0x1
	EqPsetMask       = 0xffff << 8
	EqPsetReqVec     = 0x84 << 8
	MiscControl1     = 0x8bc
	DBIRoWrEnableBit = 0

	CoherencyCtrl1 = 0x8e0
	CoherencyCtrl2 = 0x8e4
	CoherencyCtrl3 = 0x8e8
)

// roWrEn unlocks the read-only DBI registers.
var roWrEn = regs.Latch{Window: WinDBI, Offset: MiscControl1, Bit: DBIRoWrEnableBit}

// iATU, unrolled layout.
const (
	MaxOutboundWindows = 8

	atuRegionShift = 9
	atuInbound     = 0x100
	atuCtrl1       = 0x00
	atuCtrl2       = 0x04
	atuLowerBase   = 0x08
	atuUpperBase   = 0x0c
	atuLimit       = 0x10
	atuLowerTarget = 0x14
	atuUpperTarget = 0x18
	atuEnable      = 1 << 31

	atuTypeMem  = 0x0
	atuTypeIO   = 0x2
	atuTypeCfg0 = 0x4
	atuTypeCfg1 = 0x5
)

func atuRegion(i int) uint32 {
	return uint32(i) << atuRegionShift
}

// busdev is the target of a configuration window.
func busdev(bus, dev, fn uint8) uint32 {
	return uint32(bus)<<24 | uint32(dev&0x1f)<<19 | uint32(fn&0x7)<<16
}
