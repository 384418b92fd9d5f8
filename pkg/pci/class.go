// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

var classNames = map[uint8]string{
	0x00: "Build before PCI Rev2.0",
	0x01: "Mass storage controller",
	0x02: "Network controller",
	0x03: "Display controller",
	0x04: "Multimedia device",
	0x05: "Memory controller",
	0x06: "Bridge device",
	0x07: "Simple comm. controller",
	0x08: "Base system peripheral",
	0x09: "Input device",
	0x0a: "Docking station",
	0x0b: "Processor",
	0x0c: "Serial bus controller",
	0x0d: "Wireless controller",
	0x0e: "Intelligent controller",
	0x0f: "Satellite controller",
	0x10: "Cryptographic device",
	0x11: "DSP",
	0x12: "Processing accelerators",
	0x13: "Non-Essential Instrumentation",
	0x40: "Co-processor",
	0xff: "Does not fit any class",
}

// ClassName returns the short name of a base class code.
func ClassName(class uint8) string {
	if s, ok := classNames[class]; ok {
		return s
	}
	return "???"
}
