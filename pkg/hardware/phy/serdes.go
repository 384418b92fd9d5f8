// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package phy

import (
	"errors"
	"fmt"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/hardware/poll"
	"github.com/u-root/u-pcie/pkg/hardware/regs"
)

// Per-lane SerDes registers, relative to the lane window.
const (
	LaneCtrl   = 0x00
	PhyGenCtrl = 0x04
	MpllaCtrl  = 0x08

	// LaneCtrl
	CtrlReset   = 1 << 0
	CtrlPowerOn = 1 << 1
	CtrlPCIe    = 1 << 4

	// PhyGenCtrl
	RefRepeatClkEn = 1 << 16
	RefUsePad      = 1 << 17

	// MpllaCtrl
	MpllaForceEn = 1 << 0
	MpllaSSCEn   = 1 << 1
	MpllState    = 1 << 30
)

// ErrPLLLock is returned by Init when the lane PLL does not lock.
var ErrPLLLock = errors.New("PLL did not lock")

// SerdesLane drives one lane through its register window.
type SerdesLane struct {
	space    *regs.Space
	window   string
	clk      clock.Clock
	external bool
}

// NewSerdesLane returns a lane backed by window in space. External selects
// the reference clock pad instead of the internal reference.
func NewSerdesLane(space *regs.Space, window string, clk clock.Clock, external bool) (*SerdesLane, error) {
	if _, ok := space.Window(window); !ok {
		return nil, fmt.Errorf("no SerDes window %s", window)
	}
	return &SerdesLane{space: space, window: window, clk: clk, external: external}, nil
}

func (l *SerdesLane) Name() string {
	return l.window
}

// Reset asserts the lane reset and powers it down.
func (l *SerdesLane) Reset() error {
	return l.space.Modify32(l.window, LaneCtrl, CtrlPowerOn, CtrlReset)
}

// Init releases reset in PCIe mode and waits for the PLL.
func (l *SerdesLane) Init() error {
	if err := l.space.Modify32(l.window, LaneCtrl, CtrlReset, CtrlPCIe); err != nil {
		return err
	}
	if err := l.space.Modify32(l.window, MpllaCtrl, 0, MpllaForceEn); err != nil {
		return err
	}
	err := poll.Until(l.clk, poll.PLL, func() (bool, error) {
		v, err := l.space.Read32(l.window, MpllaCtrl)
		return v&MpllState != 0, err
	})
	if errors.Is(err, poll.ErrTimeout) {
		return ErrPLLLock
	}
	return err
}

// SetMode selects the reference clock arrangement for mode. With a common
// reference the clock is repeated to the link partner.
func (l *SerdesLane) SetMode(mode config.PhyMode) error {
	var gen uint32
	if l.external {
		gen |= RefUsePad
	}
	if !mode.SeparateReference() {
		gen |= RefRepeatClkEn
	}
	if err := l.space.Modify32(l.window, PhyGenCtrl, RefUsePad|RefRepeatClkEn, gen); err != nil {
		return err
	}
	var ssc uint32
	if mode.SpreadSpectrum() {
		ssc = MpllaSSCEn
	}
	return l.space.Modify32(l.window, MpllaCtrl, MpllaSSCEn, ssc)
}

// PowerOn enables the lane transmitter and receiver.
func (l *SerdesLane) PowerOn() error {
	return l.space.Modify32(l.window, LaneCtrl, 0, CtrlPowerOn)
}
