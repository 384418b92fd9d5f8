// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/hardware/phy"
	"github.com/u-root/u-pcie/pkg/hardware/regs"
	"github.com/u-root/u-pcie/pkg/pci"
)

// expCapOffset is where the dry run places the root port's PCI Express
// capability.
const expCapOffset = 0x40

// dryRunMemory returns simulated registers for cfgs. The SerDes PLLs lock
// as soon as they are forced on and each root port carries a PCI Express
// capability. No link partner is modelled, so training ends without a
// link.
func dryRunMemory(cfgs []config.Controller) *regs.SimMemory {
	m := regs.NewSimMemory()
	plls := make(map[uintptr]bool)
	for _, cfg := range cfgs {
		if !cfg.SerdesPresent {
			continue
		}
		dbi := uintptr(cfg.DBI.Base)
		m.Poke(dbi+pci.CapabilityList, 1, expCapOffset)
		m.Poke(dbi+expCapOffset, 2, pci.CapIDExp)
		for i := 0; i < cfg.Lanes && i < len(cfg.SerDes); i++ {
			plls[uintptr(cfg.SerDes[i].Base)+phy.MpllaCtrl] = true
		}
	}
	m.OnWrite = func(m *regs.SimMemory, a regs.Access) {
		if plls[a.Address] && a.Data&phy.MpllaForceEn != 0 {
			m.Poke(a.Address, 4, a.Data|phy.MpllState)
		}
	}
	return m
}
