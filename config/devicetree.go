// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/platinasystems/fdt"
	"github.com/spf13/afero"
	"github.com/u-root/u-pcie/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

// Compatible is the compatible string of the controllers this repository
// drives.
const Compatible = "nxp,s32cc-pcie"

const (
	fdtMagic      = 0xd00dfeed
	fdtHeaderSize = 40

	// Cells per reg entry: #address-cells = 2, #size-cells = 2.
	regCells = 4
	// Cells per ranges entry: 3 PCI address, 2 CPU address, 2 size.
	rangeCells = 7

	rangeSpaceShift = 24
	rangeSpaceMask  = 0x3
	rangeSpaceIO    = 0x1
	rangeSpaceMem32 = 0x2
	rangeSpaceMem64 = 0x3
	rangePrefetch   = 1 << 30
)

// LoadDeviceTree reads and parses a flattened device tree blob.
func LoadDeviceTree(fs afero.Fs, path string) (*fdt.Tree, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	t, err := parseTree(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v", path, err)
	}
	return t, nil
}

func parseTree(b []byte) (t *fdt.Tree, err error) {
	if len(b) < fdtHeaderSize || binary.BigEndian.Uint32(b) != fdtMagic {
		return nil, fmt.Errorf("not a flattened device tree")
	}
	if int(binary.BigEndian.Uint32(b[4:])) > len(b) {
		return nil, fmt.Errorf("truncated blob")
	}
	// The parser indexes the blob without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("malformed blob: %v", r)
		}
	}()
	t = &fdt.Tree{Debug: false, IsLittleEndian: false}
	if err := t.Parse(b); err != nil {
		return nil, err
	}
	if t.RootNode == nil {
		return nil, fmt.Errorf("no root node")
	}
	return t, nil
}

// ControllersFromTree returns one Controller per enabled node compatible
// with Compatible, ordered by ID.
func ControllersFromTree(t *fdt.Tree) ([]Controller, error) {
	var cs []Controller
	var errs []string
	t.EachProperty("compatible", Compatible, func(n *fdt.Node, _ string, _ string) {
		if s, ok := n.Properties["status"]; ok && !strings.HasPrefix(t.PropString(s), "ok") {
			return
		}
		c, err := controllerFromNode(t, n)
		if err != nil {
			errs = append(errs, err.Error())
			return
		}
		cs = append(cs, c)
	})
	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	return cs, nil
}

func u32Prop(t *fdt.Tree, n *fdt.Node, name string, def uint32) uint32 {
	b, ok := n.Properties[name]
	if !ok || len(b) < 4 {
		return def
	}
	return t.PropUint32(b)
}

func controllerFromNode(t *fdt.Tree, n *fdt.Node) (Controller, error) {
	c := Controller{
		Name:          n.Name,
		Role:          RootComplex,
		SerdesPresent: u32Prop(t, n, "u-pcie,serdes-present", 1) != 0,
		Lanes:         int(u32Prop(t, n, "num-lanes", 1)),
		DeviceID:      uint16(u32Prop(t, n, "pcie_device_id", 0)),
	}
	_, c.ExternalClock = n.Properties["u-pcie,external-clock"]

	id, ok := n.Properties["device_id"]
	if !ok || len(id) < 4 {
		return c, fmt.Errorf("%s: failed to get PCIe id", n.Name)
	}
	c.ID = int(int32(t.PropUint32(id)))

	if br, ok := n.Properties["bus-range"]; ok && len(br) >= 4 {
		c.RootBus = uint8(t.PropUint32(br))
	}

	c.MaxSpeed = Speed(u32Prop(t, n, "max-link-speed", uint32(Gen1)))
	if !c.MaxSpeed.Valid() {
		log.Infof("PCIe%d: Invalid speed", c.ID)
		c.MaxSpeed = Gen1
	}

	c.PhyMode = CRNS
	if b, ok := n.Properties["nxp,phy-mode"]; !ok {
		log.Infof("PCIe%d: Missing 'nxp,phy-mode' property, using default CRNS", c.ID)
	} else if m, ok := ParsePhyMode(t.PropString(b)); ok {
		c.PhyMode = m
	} else {
		log.Warnf("PCIe%d: Unsupported 'nxp,phy-mode' %q, using default CRNS", c.ID, t.PropString(b))
	}

	windows, err := regWindows(t, n)
	if err != nil {
		return c, fmt.Errorf("PCIe%d: %v", c.ID, err)
	}
	c.Ctrl = windows["ctrl"]
	c.DBI = windows["dbi"]
	c.DBI2 = windows["dbi2"]
	c.ATU = windows["atu"]
	c.Coherency = windows["coherency"]
	c.Config = windows["config"]
	c.SerDes[0] = windows["serdes_lane0"]
	c.SerDes[1] = windows["serdes_lane1"]

	if b, ok := n.Properties["ranges"]; ok {
		c.Regions, err = pciRanges(t.PropUint32Slice(b))
		if err != nil {
			return c, fmt.Errorf("PCIe%d: %v", c.ID, err)
		}
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func regWindows(t *fdt.Tree, n *fdt.Node) (map[string]Window, error) {
	rb, ok := n.Properties["reg"]
	if !ok {
		return nil, fmt.Errorf("missing reg")
	}
	nb, ok := n.Properties["reg-names"]
	if !ok {
		return nil, fmt.Errorf("missing reg-names")
	}
	cells := t.PropUint32Slice(rb)
	var names []string
	for _, s := range t.PropStringSlice(nb) {
		if s != "" {
			names = append(names, s)
		}
	}
	if len(cells) != regCells*len(names) {
		return nil, fmt.Errorf("%d reg cells for %d reg-names", len(cells), len(names))
	}
	w := make(map[string]Window, len(names))
	for i, name := range names {
		e := cells[i*regCells:]
		size := uint64(e[2])<<32 | uint64(e[3])
		if size > 1<<32-1 {
			return nil, fmt.Errorf("resource '%s' too large", name)
		}
		w[name] = Window{Base: uint64(e[0])<<32 | uint64(e[1]), Size: uint32(size)}
	}
	return w, nil
}

// pciRanges decodes a standard PCI bus "ranges" property.
func pciRanges(cells []uint32) ([]Region, error) {
	if len(cells)%rangeCells != 0 {
		return nil, fmt.Errorf("ranges has %d cells, not a multiple of %d", len(cells), rangeCells)
	}
	var rs []Region
	for i := 0; i < len(cells); i += rangeCells {
		e := cells[i : i+rangeCells]
		r := Region{
			BusBase:  uint64(e[1])<<32 | uint64(e[2]),
			PhysBase: uint64(e[3])<<32 | uint64(e[4]),
			Size:     uint64(e[5])<<32 | uint64(e[6]),
		}
		switch (e[0] >> rangeSpaceShift) & rangeSpaceMask {
		case rangeSpaceIO:
			r.Kind = IO
		case rangeSpaceMem32, rangeSpaceMem64:
			r.Kind = Mem
			if e[0]&rangePrefetch != 0 {
				r.Kind = PrefetchMem
			}
		default:
			return nil, fmt.Errorf("ranges entry %d: config space in ranges", i/rangeCells)
		}
		rs = append(rs, r)
	}
	return rs, nil
}
