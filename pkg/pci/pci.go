// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pci has the configuration space layout shared by host
// controllers and the code walking what is behind them.
package pci

import (
	"errors"
	"fmt"
)

// Standard configuration header offsets.
const (
	VendorID       = 0x00
	DeviceID       = 0x02
	Command        = 0x04
	ClassRevision  = 0x08
	HeaderType     = 0x0e
	PrimaryBus     = 0x18
	SecondaryBus   = 0x19
	SubordinateBus = 0x1a
	CapabilityList = 0x34

	// ConfigSize is the size of one function's configuration space.
	ConfigSize = 0x1000

	HeaderTypeMask   = 0x7f
	HeaderNormal     = 0x00
	HeaderBridge     = 0x01
	HeaderMultiFunc  = 0x80
	CapIDExp         = 0x10
	VendorIDInvalid  = 0xffff
	MaxDevices       = 32
	MaxFunctions     = 8
	MaxBuses         = 256
	maxCapabilityHop = 48
)

// ErrInvalidAddress is returned for a bus/device/function that cannot be
// reached, either because it does not exist on that bus or because the
// link towards it is down.
var ErrInvalidAddress = errors.New("invalid config address")

// BDF is a bus/device/function triple.
type BDF struct {
	Bus      uint8
	Device   uint8
	Function uint8
}

func (b BDF) String() string {
	return fmt.Sprintf("%02x:%02x.%02x", b.Bus, b.Device, b.Function)
}

// Valid checks device and function ranges.
func (b BDF) Valid() bool {
	return b.Device < MaxDevices && b.Function < MaxFunctions
}

// ConfigSpaceAccessor reads and writes configuration registers of the
// functions below a host bridge.
type ConfigSpaceAccessor interface {
	ReadConfig(bdf BDF, offset uint32, width int) (uint32, error)
	WriteConfig(bdf BDF, offset uint32, width int, v uint32) error
}

// RegisterReader is the subset of register access FindCapability needs.
type RegisterReader func(offset uint32, width int) (uint32, error)

// FindCapability walks the capability list and returns the offset of the
// capability with the given id, or 0 if it is not present.
func FindCapability(read RegisterReader, id uint8) (uint32, error) {
	p, err := read(CapabilityList, 1)
	if err != nil {
		return 0, err
	}
	for hop := 0; p >= 0x40 && hop < maxCapabilityHop; hop++ {
		p &^= 3
		h, err := read(p, 2)
		if err != nil {
			return 0, err
		}
		if uint8(h) == id {
			return p, nil
		}
		p = h >> 8
	}
	return 0, nil
}
