// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcie

import (
	"fmt"

	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/pci"
)

// confAddress resolves bdf and offset to a window. The root bus is the
// root port's own DBI; the bus behind the link goes through the CFG0
// window and every bus further down through CFG1, each retargeted to bdf
// first.
func (c *Controller) confAddress(bdf pci.BDF, offset uint32, width int) (string, uint32, error) {
	if !bdf.Valid() || uint64(offset)+uint64(width) > pci.ConfigSize {
		return "", 0, fmt.Errorf("%w: %v+%#x", pci.ErrInvalidAddress, bdf, offset)
	}
	ht, err := c.space.Read(WinDBI, pci.HeaderType, 1)
	if err != nil {
		return "", 0, err
	}
	if ht&pci.HeaderTypeMask == pci.HeaderNormal {
		return "", 0, fmt.Errorf("%w: %v: root port is not a bridge", pci.ErrInvalidAddress, bdf)
	}
	root := c.cfg.RootBus
	if bdf.Bus < root {
		return "", 0, fmt.Errorf("%w: %v: below root bus %d", pci.ErrInvalidAddress, bdf, root)
	}
	if bdf.Bus > root {
		up, err := c.LinkUp()
		if err != nil {
			return "", 0, err
		}
		if !up {
			return "", 0, fmt.Errorf("%w: %v: link down", pci.ErrInvalidAddress, bdf)
		}
	}
	if int(bdf.Bus) <= int(root)+1 && bdf.Device > 0 {
		return "", 0, fmt.Errorf("%w: %v: only device 0 on bus %d", pci.ErrInvalidAddress, bdf, bdf.Bus)
	}
	if bdf.Bus == root {
		if bdf.Function > 0 {
			return "", 0, fmt.Errorf("%w: %v: root port has a single function", pci.ErrInvalidAddress, bdf)
		}
		return WinDBI, offset, nil
	}

	ws := c.atu.windows
	if len(ws) < 2 || ws[0].Kind != config.ConfigLower || ws[1].Kind != config.ConfigUpper {
		return "", 0, fmt.Errorf("%w: %v: configuration windows not programmed", pci.ErrInvalidAddress, bdf)
	}
	target := busdev(bdf.Bus-root, bdf.Device, bdf.Function)
	if int(bdf.Bus) == int(root)+1 {
		return WinConfig, offset, c.atu.setTarget(0, target)
	}
	return WinConfig, uint32(ws[0].Size) + offset, c.atu.setTarget(1, target)
}

// ReadConfig reads a configuration register of bdf.
func (c *Controller) ReadConfig(bdf pci.BDF, offset uint32, width int) (uint32, error) {
	win, off, err := c.confAddress(bdf, offset, width)
	if err != nil {
		return 0, err
	}
	return c.space.Read(win, off, width)
}

// WriteConfig writes a configuration register of bdf.
func (c *Controller) WriteConfig(bdf pci.BDF, offset uint32, width int, v uint32) error {
	win, off, err := c.confAddress(bdf, offset, width)
	if err != nil {
		return err
	}
	return c.space.Write(win, off, width, v)
}
