// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package topology walks the functions below a PCIe root port.
package topology

import (
	"errors"

	"github.com/u-root/u-pcie/pkg/pci"
)

// Device is the header summary of one function.
type Device struct {
	BDF pci.BDF
	// Depth is 0 for the root port and grows by one per bridge crossed.
	Depth      int
	Vendor     uint16
	Device     uint16
	Class      uint8
	Subclass   uint8
	HeaderType uint8
	// Secondary is the bus behind a bridge, 0 for other functions.
	Secondary uint8
}

// Bridge reports whether the function is a PCI-to-PCI bridge.
func (d Device) Bridge() bool {
	return d.HeaderType&pci.HeaderTypeMask == pci.HeaderBridge
}

type frame struct {
	bus   uint8
	depth int
	dev   int
	fn    int
	multi bool
}

// Enumerator is a depth-first walk over the buses reachable from a root
// bus. Devices are read lazily, one per call to Next. Every bus is
// visited at most once, so the walk ends after at most 256 buses even if
// bridges are misconfigured. An Enumerator cannot be restarted.
type Enumerator struct {
	acc     pci.ConfigSpaceAccessor
	stack   []frame
	visited [pci.MaxBuses]bool
	done    bool
	err     error
}

// New returns an enumerator starting at root.
func New(acc pci.ConfigSpaceAccessor, root uint8) *Enumerator {
	e := &Enumerator{acc: acc}
	e.visited[root] = true
	e.stack = append(e.stack, frame{bus: root})
	return e
}

// Next returns the next present function. It returns false once the walk
// is over or an access failed; check Err afterwards.
func (e *Enumerator) Next() (Device, bool) {
	for !e.done && len(e.stack) > 0 {
		f := &e.stack[len(e.stack)-1]
		if f.dev >= pci.MaxDevices {
			e.stack = e.stack[:len(e.stack)-1]
			continue
		}
		bdf := pci.BDF{Bus: f.bus, Device: uint8(f.dev), Function: uint8(f.fn)}
		d, present, err := e.read(bdf)
		if err != nil {
			e.err = err
			break
		}
		if f.fn == 0 {
			f.multi = present && d.HeaderType&pci.HeaderMultiFunc != 0
		}
		if f.multi && f.fn < pci.MaxFunctions-1 {
			f.fn++
		} else {
			f.fn = 0
			f.dev++
		}
		if !present {
			continue
		}
		d.Depth = f.depth
		if d.Bridge() && d.Secondary > f.bus && !e.visited[d.Secondary] {
			e.visited[d.Secondary] = true
			e.stack = append(e.stack, frame{bus: d.Secondary, depth: d.Depth + 1})
		}
		return d, true
	}
	e.done = true
	e.stack = nil
	return Device{}, false
}

// Err returns the access error that ended the walk, if any.
func (e *Enumerator) Err() error {
	return e.err
}

// All drains the enumerator.
func (e *Enumerator) All() ([]Device, error) {
	var ds []Device
	for {
		d, ok := e.Next()
		if !ok {
			break
		}
		ds = append(ds, d)
	}
	return ds, e.Err()
}

func (e *Enumerator) read(bdf pci.BDF) (Device, bool, error) {
	id, err := e.acc.ReadConfig(bdf, pci.VendorID, 4)
	if errors.Is(err, pci.ErrInvalidAddress) {
		return Device{}, false, nil
	}
	if err != nil {
		return Device{}, false, err
	}
	vendor := uint16(id)
	if vendor == pci.VendorIDInvalid || vendor == 0 {
		return Device{}, false, nil
	}
	d := Device{BDF: bdf, Vendor: vendor, Device: uint16(id >> 16)}
	cr, err := e.acc.ReadConfig(bdf, pci.ClassRevision, 4)
	if err != nil {
		return Device{}, false, err
	}
	d.Class = uint8(cr >> 24)
	d.Subclass = uint8(cr >> 16)
	ht, err := e.acc.ReadConfig(bdf, pci.HeaderType, 1)
	if err != nil {
		return Device{}, false, err
	}
	d.HeaderType = uint8(ht)
	if d.Bridge() {
		sec, err := e.acc.ReadConfig(bdf, pci.SecondaryBus, 1)
		if err != nil {
			return Device{}, false, err
		}
		d.Secondary = uint8(sec)
	}
	return d, true, nil
}
