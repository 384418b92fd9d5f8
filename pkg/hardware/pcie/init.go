// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcie

import (
	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/pci"
)

// Init programs the controller core: device type, SRIS, equalization and,
// for a root complex, payload sizes, the command register, error
// reporting and bus numbers. The LTSSM is left as it is.
func (c *Controller) Init() error {
	dt := uint32(DeviceTypeRC)
	if c.cfg.Role == config.Endpoint {
		dt = DeviceTypeEP
	}
	if err := c.space.Modify32(WinCtrl, GenCtrl1, DeviceTypeMask, dt); err != nil {
		return err
	}
	if c.cfg.PhyMode == config.SRIS {
		if err := c.space.Modify32(WinCtrl, GenCtrl1, 0, SRISMode); err != nil {
			return err
		}
	}

	g, err := c.space.Unlock(roWrEn)
	if err != nil {
		return err
	}
	defer g.Release()

	if err := c.space.Modify32(WinDBI, LinkWidthSpeed, 0, SpeedChange); err != nil {
		return err
	}
	if err := c.disableEqualization(); err != nil {
		return err
	}
	if err := c.space.Modify32(WinDBI, PortForce, 0, DeskewForSRIS); err != nil {
		return err
	}
	if c.cfg.Role == config.RootComplex {
		if err := c.initRootPort(); err != nil {
			return err
		}
	}
	if err := c.space.Modify32(WinDBI, Gen3Related, 0, EqPhase23); err != nil {
		return err
	}
	c.logCoherency()
	c.log.Infof("Configuring as %v", c.cfg.Role)
	return nil
}

func (c *Controller) disableEqualization() error {
	if err := c.space.Modify32(WinDBI, Gen3EqControl, EqFBModeMask|EqPsetMask, EqFBMode|EqPsetReqVec); err != nil {
		return err
	}
	v, err := c.space.Read32(WinDBI, Gen3EqControl)
	if err != nil {
		return err
	}
	c.log.Debugf("GEN3_EQ_CONTROL: 0x%08x", v)
	return nil
}

func (c *Controller) initRootPort() error {
	// 256 byte payload and read requests, relaxed ordering.
	if err := c.space.Modify32(WinDBI, DevCtl,
		DevCtlRelaxedOrd|DevCtlPayloadMask|DevCtlReadReqMask,
		DevCtlRelaxedOrd|DevCtlPayload256|DevCtlReadReq256); err != nil {
		return err
	}
	cmd := uint32(CmdSERR | CmdParity | CmdINTxDisable | CmdIO | CmdMemory | CmdBusMaster)
	if err := c.space.Write32(WinDBI, pci.Command, cmd); err != nil {
		return err
	}
	if err := c.space.Modify32(WinDBI, DevCtl, 0, DevCtlCorrErr|DevCtlNonFatalErr|DevCtlFatalErr|DevCtlURErr); err != nil {
		return err
	}
	// Primary is the root bus, secondary the one behind the link, and
	// everything below can be reached through the root port.
	root := uint32(c.cfg.RootBus)
	return c.space.Modify32(WinDBI, pci.PrimaryBus, 0xffffff, 0xff<<16|(root+1)<<8|root)
}

// logCoherency shows the ACE coherency defaults, which are kept.
func (c *Controller) logCoherency() {
	if _, ok := c.space.Window(WinCoherency); !ok {
		return
	}
	for _, off := range []uint32{0, 4, 8} {
		v, err := c.space.Read32(WinCoherency, off)
		if err != nil {
			return
		}
		c.log.Debugf("COHERENCY_CONTROL_%d: 0x%08x", off/4+1, v)
	}
}

// SetDeviceID writes the Freescale vendor ID and the configured device
// ID. A controller without a device ID keeps the reset value.
func (c *Controller) SetDeviceID() error {
	if c.cfg.DeviceID == 0 {
		c.log.Infof("Could not set DEVICE ID")
		return nil
	}
	id := uint32(VendorFreescale) | uint32(c.cfg.DeviceID)<<16
	c.log.Debugf("Setting PCI Device and Vendor IDs to 0x%x:0x%x", c.cfg.DeviceID, VendorFreescale)

	g, err := c.space.Unlock(roWrEn)
	if err != nil {
		return err
	}
	defer g.Release()
	if err := c.space.Write32(WinDBI, pci.VendorID, id); err != nil {
		return err
	}
	v, err := c.space.Read32(WinDBI, pci.VendorID)
	if err != nil {
		return err
	}
	if v != id {
		c.log.Infof("PCI Device and Vendor IDs could not be set")
	}
	return nil
}

// fixups run once the link is up: the root port is a single function
// bridge and only vendor messages are forwarded.
func (c *Controller) fixups() error {
	g, err := c.space.Unlock(roWrEn)
	if err != nil {
		return err
	}
	defer g.Release()
	if err := c.space.Write(WinDBI, pci.HeaderType, 1, pci.HeaderBridge); err != nil {
		return err
	}
	return c.space.Modify32(WinDBI, SymbolTimerFlt1, FltMaskMsgDrop, 0)
}
