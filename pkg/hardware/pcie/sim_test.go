// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcie

import (
	"testing"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/hardware/phy"
	"github.com/u-root/u-pcie/pkg/hardware/regs"
	"github.com/u-root/u-pcie/pkg/pci"
)

const (
	dbiBase   = 0x40400000
	dbi2Base  = 0x40420000
	atuBase   = 0x40440000
	lane0Base = 0x40480000
	lane1Base = 0x40481000
	cohBase   = 0x40482000
	ctrlBase  = 0x40483000
	cfgBase   = 0x5ff00000
	cfgSize   = 0x100000

	expCap    = 0x70
	linkCap   = dbiBase + expCap + ExpLinkCap
	linkSta   = dbiBase + expCap + ExpLinkStatus
	ltssmPoll = 0x0d
)

func testConfig(id int) config.Controller {
	return config.Controller{
		ID:            id,
		Name:          "pcie@40400000",
		Role:          config.RootComplex,
		MaxSpeed:      config.Gen3,
		PhyMode:       config.CRNS,
		SerdesPresent: true,
		Lanes:         1,
		DeviceID:      0x4002,
		Ctrl:          config.Window{Base: ctrlBase, Size: 0x2000},
		DBI:           config.Window{Base: dbiBase, Size: 0x1000},
		DBI2:          config.Window{Base: dbi2Base, Size: 0x1000},
		ATU:           config.Window{Base: atuBase, Size: 0x10000},
		Coherency:     config.Window{Base: cohBase, Size: 0x100},
		Config:        config.Window{Base: cfgBase, Size: cfgSize},
		SerDes: [2]config.Window{
			{Base: lane0Base, Size: 0x100},
			{Base: lane1Base, Size: 0x100},
		},
		Regions: []config.Region{
			{Kind: config.IO, PhysBase: 0x5fef0000, BusBase: 0, Size: 0x10000},
			{Kind: config.Mem, PhysBase: 0x58000000, BusBase: 0x58000000, Size: 0x7ef0000},
		},
	}
}

// sim models the controller, its SerDes lanes and a link partner on top
// of SimMemory.
type sim struct {
	mem *regs.SimMemory
	// partner is the fastest speed of the link partner, 0 for none.
	partner          config.Speed
	partnerLanes     int
	pllStuck         [2]bool
	speedChangeStuck bool
	recheckFails     bool
	atuStuck         bool
	vendorLocked     bool
	root             uint8
	devices          map[pci.BDF][]byte
	shadow           map[uintptr]uint32
}

func newSim() *sim {
	s := &sim{
		mem:          regs.NewSimMemory(),
		partner:      config.Gen3,
		partnerLanes: 2,
		devices:      map[pci.BDF][]byte{},
		shadow:       map[uintptr]uint32{},
	}
	m := s.mem
	m.Poke(dbiBase+pci.VendorID, 4, 0xabcd16c3)
	m.Poke(dbiBase+pci.ClassRevision, 4, 0x06040001)
	m.Poke(dbiBase+pci.HeaderType, 1, pci.HeaderMultiFunc|pci.HeaderBridge)
	m.Poke(dbiBase+pci.CapabilityList, 1, expCap)
	m.Poke(dbiBase+expCap, 2, pci.CapIDExp)
	m.Poke(linkCap, 4, uint32(config.Gen3)|2<<4)
	m.Poke(dbiBase+SymbolTimerFlt1, 4, FltMaskMsgDrop|0x1234)
	m.Poke(cohBase, 4, 0x1)
	for _, a := range []uintptr{dbiBase + pci.VendorID, linkCap} {
		s.shadow[a] = m.Peek(a, 4)
	}
	m.OnWrite = s.onWrite
	return s
}

func (s *sim) controller(t *testing.T, cfg config.Controller, opts ...Option) *Controller {
	t.Helper()
	s.root = cfg.RootBus
	c, err := New(cfg, s.mem, clock.NewFake(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (s *sim) roWritable(m *regs.SimMemory) bool {
	return m.Peek(dbiBase+MiscControl1, 4)&(1<<DBIRoWrEnableBit) != 0
}

func (s *sim) onWrite(m *regs.SimMemory, a regs.Access) {
	switch {
	case a.Address == dbiBase+pci.VendorID || a.Address == linkCap:
		if !s.roWritable(m) || (s.vendorLocked && a.Address == dbiBase) {
			m.Poke(a.Address, 4, s.shadow[a.Address])
			return
		}
		s.shadow[a.Address] = m.Peek(a.Address, 4)
	case a.Address == lane0Base+phy.MpllaCtrl:
		s.lane(m, 0, lane0Base)
	case a.Address == lane1Base+phy.MpllaCtrl:
		s.lane(m, 1, lane1Base)
	case a.Address == ctrlBase+GenCtrl3:
		s.ltssm(m)
	case a.Address == dbiBase+LinkWidthSpeed:
		if a.Data&SpeedChange != 0 {
			s.speedChange(m)
		}
	case a.Address >= atuBase && a.Address < atuBase+0x10000:
		s.atu(m, a)
	}
}

func (s *sim) lane(m *regs.SimMemory, i int, base uintptr) {
	v := m.Peek(base+phy.MpllaCtrl, 4)
	inReset := m.Peek(base+phy.LaneCtrl, 4)&phy.CtrlReset != 0
	if v&phy.MpllaForceEn != 0 && !inReset && !s.pllStuck[i] {
		m.Poke(base+phy.MpllaCtrl, 4, v|phy.MpllState)
	}
}

func (s *sim) lanesUp(m *regs.SimMemory) int {
	n := 0
	for _, b := range []uintptr{lane0Base, lane1Base} {
		if m.Peek(b+phy.LaneCtrl, 4)&phy.CtrlPowerOn != 0 {
			n++
		}
	}
	if n > s.partnerLanes {
		n = s.partnerLanes
	}
	return n
}

func (s *sim) negotiate(m *regs.SimMemory) config.Speed {
	sp := config.Speed(m.Peek(linkCap, 4) & LinkCapSpeedMask)
	if s.partner < sp {
		sp = s.partner
	}
	return sp
}

func (s *sim) setLink(m *regs.SimMemory, sp config.Speed) {
	m.Poke(ctrlBase+LinkDbg2, 4, LinkUpExpect)
	m.Poke(linkSta, 2, uint32(sp)|uint32(s.lanesUp(m))<<LinkStatusWidthShift)
}

func (s *sim) linkIsUp(m *regs.SimMemory) bool {
	return m.Peek(ctrlBase+LinkDbg2, 4)&LinkUpMask == LinkUpExpect
}

func (s *sim) ltssm(m *regs.SimMemory) {
	en := m.Peek(ctrlBase+GenCtrl3, 4)&LTSSMEnable != 0
	if !en || s.partner == 0 || s.lanesUp(m) == 0 {
		m.Poke(ctrlBase+LinkDbg2, 4, 0x01)
		m.Poke(linkSta, 2, 0)
		return
	}
	s.setLink(m, s.negotiate(m))
	// A pending directed speed change starts right after link up.
	if m.Peek(dbiBase+LinkWidthSpeed, 4)&SpeedChange != 0 {
		s.speedChange(m)
	}
}

func (s *sim) speedChange(m *regs.SimMemory) {
	if !s.linkIsUp(m) || s.speedChangeStuck {
		return
	}
	sp := s.negotiate(m)
	s.setLink(m, sp)
	m.Poke(dbiBase+LinkWidthSpeed, 4, m.Peek(dbiBase+LinkWidthSpeed, 4)&^SpeedChange)
	if s.recheckFails && sp > config.Gen1 {
		m.Poke(ctrlBase+LinkDbg2, 4, SMLHLinkUp|ltssmPoll)
	}
}

func (s *sim) atu(m *regs.SimMemory, a regs.Access) {
	off := uint32(a.Address - atuBase)
	region, reg := off>>atuRegionShift, off&(1<<atuRegionShift-1)
	switch {
	case reg == atuCtrl2 && s.atuStuck:
		m.Poke(a.Address, 4, a.Data&^atuEnable)
	case reg == atuLowerTarget && region < 2:
		s.loadConfig(m, region, a.Data)
	}
}

// loadConfig fills a configuration window with the header of the
// function it now targets, or all ones if there is none.
func (s *sim) loadConfig(m *regs.SimMemory, region uint32, target uint32) {
	bdf := pci.BDF{
		Bus:      s.root + uint8(target>>24),
		Device:   uint8(target>>19) & 0x1f,
		Function: uint8(target>>16) & 0x7,
	}
	base := uintptr(cfgBase) + uintptr(region)*cfgSize/2
	hdr, ok := s.devices[bdf]
	for i := 0; i < 0x40; i++ {
		b := uint32(0xff)
		if ok {
			b = uint32(hdr[i])
		}
		m.Poke(base+uintptr(i), 1, b)
	}
}

func (s *sim) addDevice(bdf pci.BDF, vendor, device uint16, class, subclass, header, secondary uint8) {
	h := make([]byte, 0x40)
	h[0], h[1] = byte(vendor), byte(vendor>>8)
	h[2], h[3] = byte(device), byte(device>>8)
	h[0x0a], h[0x0b] = subclass, class
	h[pci.HeaderType] = header
	h[pci.SecondaryBus] = secondary
	s.devices[bdf] = h
}

// wrote reports whether any recorded write hit address with all bits of
// mask set.
func wrote(m *regs.SimMemory, address uintptr, mask uint32) bool {
	for _, a := range m.Writes() {
		if a.Address == address && a.Data&mask == mask {
			return true
		}
	}
	return false
}
