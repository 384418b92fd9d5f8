// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pcie brings up the DesignWare based PCIe root complex found on
// S32 automotive SoCs: SerDes lanes, link training with a directed speed
// change, outbound address translation and configuration space access.
package pcie

import (
	"fmt"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/hardware/phy"
	"github.com/u-root/u-pcie/pkg/hardware/regs"
	"github.com/u-root/u-pcie/pkg/logger"
	"github.com/u-root/u-pcie/pkg/metric"
	"github.com/u-root/u-pcie/pkg/pci"
	"go.uber.org/zap"
)

var log = logger.LogContainer.GetSimpleLogger()

// LinkState is read back from the hardware on every call.
type LinkState struct {
	Trained     bool
	Width       int
	Speed       config.Speed
	LTSSMActive bool
}

func (s LinkState) String() string {
	if !s.Trained {
		return "no link"
	}
	return fmt.Sprintf("X%d, %v", s.Width, s.Speed)
}

// Controller is one PCIe controller.
type Controller struct {
	cfg   config.Controller
	space *regs.Space
	clk   clock.Clock
	lanes []phy.Lane
	atu   *Table
	log   *zap.SugaredLogger
	label string

	// maxSpeed is cfg.MaxSpeed after board limits are applied.
	maxSpeed config.Speed
	capExp   uint32
	state    State
	outcome  Outcome
}

// Option changes how New builds a Controller.
type Option func(*Controller)

// WithLanes replaces the SerDes lanes New would create from the
// controller's lane windows.
func WithLanes(lanes ...phy.Lane) Option {
	return func(c *Controller) {
		c.lanes = lanes
	}
}

// New maps the register windows of cfg through mem. No register is
// touched until a bring-up operation is called.
func New(cfg config.Controller, mem regs.MemProvider, clk clock.Clock, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ATU.Size < atuRegion(MaxOutboundWindows) {
		return nil, fmt.Errorf("pcie%d: iATU window of %#x bytes cannot hold %d regions", cfg.ID, cfg.ATU.Size, MaxOutboundWindows)
	}
	windows := []regs.Window{}
	for _, w := range []struct {
		name string
		win  config.Window
	}{
		{WinCtrl, cfg.Ctrl},
		{WinDBI, cfg.DBI},
		{WinDBI2, cfg.DBI2},
		{WinATU, cfg.ATU},
		{WinCoherency, cfg.Coherency},
		{WinConfig, cfg.Config},
		{WinLane0, cfg.SerDes[0]},
		{WinLane1, cfg.SerDes[1]},
	} {
		if w.win.Size == 0 {
			continue
		}
		windows = append(windows, regs.Window{Name: w.name, Base: uintptr(w.win.Base), Size: w.win.Size})
	}
	space, err := regs.NewSpace(mem, windows...)
	if err != nil {
		return nil, fmt.Errorf("pcie%d: %v", cfg.ID, err)
	}
	l := log.With(logger.LogContainer.Controller(cfg.ID))
	space.WithLogger(l)

	c := &Controller{
		cfg:      cfg,
		space:    space,
		clk:      clk,
		log:      l,
		label:    metric.Label(cfg.ID),
		maxSpeed: EffectiveSpeed(cfg),
		state:    Disabled,
	}
	c.atu = newTable(space, clk, l)
	for _, o := range opts {
		o(c)
	}
	if c.lanes == nil {
		for i, name := range []string{WinLane0, WinLane1}[:cfg.Lanes] {
			lane, err := phy.NewSerdesLane(space, name, clk, cfg.ExternalClock)
			if err != nil {
				return nil, fmt.Errorf("pcie%d: lane %d: %v", cfg.ID, i, err)
			}
			c.lanes = append(c.lanes, lane)
		}
	}
	if cfg.MaxSpeed.Valid() && c.maxSpeed != cfg.MaxSpeed {
		l.Infof("SRNS phy mode with internal clock @maximum %v speed", c.maxSpeed)
	}
	return c, nil
}

// EffectiveSpeed is the fastest generation cfg may train to. Separate
// references without spread spectrum need the external clock above Gen2.
func EffectiveSpeed(cfg config.Controller) config.Speed {
	s := cfg.MaxSpeed
	if !s.Valid() {
		s = config.Gen1
	}
	if cfg.PhyMode == config.SRNS && !cfg.ExternalClock && s > config.Gen2 {
		s = config.Gen2
	}
	return s
}

func (c *Controller) ID() int {
	return c.cfg.ID
}

func (c *Controller) Name() string {
	return c.cfg.Name
}

// Config returns the description the controller was built from.
func (c *Controller) Config() config.Controller {
	return c.cfg
}

// MaxSpeed is the configured speed after board limits.
func (c *Controller) MaxSpeed() config.Speed {
	return c.maxSpeed
}

// Table returns the outbound translation table.
func (c *Controller) Table() *Table {
	return c.atu
}

// State is where the last TrainLink got to.
func (c *Controller) State() State {
	return c.state
}

// Outcome is the result of the last TrainLink.
func (c *Controller) Outcome() Outcome {
	return c.outcome
}

// RootBus is the bus number of the root port.
func (c *Controller) RootBus() uint8 {
	return c.cfg.RootBus
}

func (c *Controller) readDBI(offset uint32, width int) (uint32, error) {
	return c.space.Read(WinDBI, offset, width)
}

// expCap returns the offset of the root port's PCI Express capability.
func (c *Controller) expCap() (uint32, error) {
	if c.capExp != 0 {
		return c.capExp, nil
	}
	off, err := pci.FindCapability(c.readDBI, pci.CapIDExp)
	if err != nil {
		return 0, err
	}
	if off == 0 {
		return 0, fmt.Errorf("pcie%d: no PCI Express capability", c.cfg.ID)
	}
	c.capExp = off
	return off, nil
}

func (c *Controller) ltssmEnabled() (bool, error) {
	v, err := c.space.Read32(WinCtrl, GenCtrl3)
	return v&LTSSMEnable != 0, err
}

// hasDataPhyLink checks that both the PHY and data link layers are up
// and the LTSSM sits in L0.
func (c *Controller) hasDataPhyLink() (bool, error) {
	v, err := c.space.Read32(WinCtrl, LinkDbg2)
	return v&LinkUpMask == LinkUpExpect, err
}

// LinkUp reports whether the LTSSM is enabled and the link is in L0.
func (c *Controller) LinkUp() (bool, error) {
	en, err := c.ltssmEnabled()
	if err != nil || !en {
		return false, err
	}
	return c.hasDataPhyLink()
}

// LinkState reads the current link state.
func (c *Controller) LinkState() (LinkState, error) {
	var s LinkState
	var err error
	if s.LTSSMActive, err = c.ltssmEnabled(); err != nil {
		return s, err
	}
	if !s.LTSSMActive {
		return s, nil
	}
	if s.Trained, err = c.hasDataPhyLink(); err != nil || !s.Trained {
		return s, err
	}
	off, err := c.expCap()
	if err != nil {
		return s, err
	}
	sta, err := c.space.Read(WinDBI, off+ExpLinkStatus, 2)
	if err != nil {
		return s, err
	}
	s.Speed = config.Speed(sta & LinkStatusSpeedMask)
	s.Width = int(sta&LinkStatusWidthMask) >> LinkStatusWidthShift
	return s, nil
}

// Summary is the controller line of the topology report.
func (c *Controller) Summary() (string, error) {
	s, err := c.LinkState()
	if err != nil {
		return "", err
	}
	if !s.Trained {
		return fmt.Sprintf("%s %v", c.cfg.Name, c.cfg.Role), nil
	}
	return fmt.Sprintf("%s %v (X%d, Gen%d)", c.cfg.Name, c.cfg.Role, s.Width, int(s.Speed)), nil
}

func (c *Controller) setLTSSM(on bool) error {
	g, err := c.space.Unlock(roWrEn)
	if err != nil {
		return err
	}
	defer g.Release()
	if on {
		return c.space.Modify32(WinCtrl, GenCtrl3, 0, LTSSMEnable)
	}
	return c.space.Modify32(WinCtrl, GenCtrl3, LTSSMEnable, 0)
}
