// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package topology

import (
	"fmt"
	"io"
	"strings"

	"github.com/u-root/u-pcie/pkg/pci"
)

// Header is printed once above all controllers.
var Header = "PCIe:   BusDevFun       VendorId   DeviceId   Device Class       Sub-Class\n" +
	strings.Repeat("_", 74) + "\n"

// Devices up to this depth get their columns aligned.
const alignDepth = 2

// Print writes devs, as returned by an Enumerator, as a tree. Each line
// has the tree prefix, the address, then vendor, device, class and
// subclass.
func Print(w io.Writer, devs []Device) error {
	// last[i] is set when devs[i] is the last child of its parent.
	last := make([]bool, len(devs))
	for i, d := range devs {
		last[i] = true
		for _, n := range devs[i+1:] {
			if n.Depth < d.Depth {
				break
			}
			if n.Depth == d.Depth {
				last[i] = false
				break
			}
		}
	}

	// open[k] is set while the ancestor at depth k still has siblings
	// to come, which is when its column needs a "|".
	var open []bool
	for i, d := range devs {
		var b strings.Builder
		for k := 0; k < d.Depth; k++ {
			if k < len(open) && open[k] {
				b.WriteString("|   ")
			} else {
				b.WriteString("    ")
			}
		}
		if last[i] {
			b.WriteString("`-- ")
		} else {
			b.WriteString("|-- ")
		}
		b.WriteString(d.BDF.String())
		for k := alignDepth - d.Depth + 1; k > 0; k-- {
			b.WriteString("    ")
		}
		fmt.Fprintf(&b, "0x%.4x     0x%.4x     %-23s 0x%.2x\n", d.Vendor, d.Device, pci.ClassName(d.Class), d.Subclass)
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}

		for len(open) <= d.Depth {
			open = append(open, false)
		}
		open = open[:d.Depth+1]
		open[d.Depth] = !last[i]
	}
	return nil
}
