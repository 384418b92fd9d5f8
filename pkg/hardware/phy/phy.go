// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package phy brings up the SerDes lanes feeding a PCIe controller.
package phy

import (
	"fmt"

	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/logger"
	"go.uber.org/zap"
)

var log = logger.LogContainer.GetSimpleLogger()

// Lane is one SerDes lane. The steps are always called in the order
// Reset, Init, SetMode, PowerOn.
type Lane interface {
	Name() string
	Reset() error
	Init() error
	SetMode(mode config.PhyMode) error
	PowerOn() error
}

// PhyError is the first failing step of a lane bring-up.
type PhyError struct {
	Lane string
	Step string
	Err  error
}

func (e *PhyError) Error() string {
	return fmt.Sprintf("PHY '%s': %s failed: %v", e.Lane, e.Step, e.Err)
}

func (e *PhyError) Unwrap() error {
	return e.Err
}

// BringUp runs reset, init, set-mode and power-on on lane, stopping at the
// first step that fails.
func BringUp(lane Lane, mode config.PhyMode) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"reset", lane.Reset},
		{"init", lane.Init},
		{"set mode", func() error { return lane.SetMode(mode) }},
		{"power on", lane.PowerOn},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return &PhyError{Lane: lane.Name(), Step: s.name, Err: err}
		}
	}
	return nil
}

// BringUpLanes brings up lanes in order. The first lane is mandatory and
// its failure is returned. Failures of the other lanes are logged and the
// link continues with fewer lanes. It returns how many lanes came up.
func BringUpLanes(lanes []Lane, mode config.PhyMode, l *zap.SugaredLogger) (int, error) {
	if len(lanes) == 0 {
		return 0, fmt.Errorf("no PHY lanes")
	}
	if l == nil {
		l = log
	}
	if err := BringUp(lanes[0], mode); err != nil {
		l.Errorf("Failed to bring up mandatory lane: %v", err)
		return 0, err
	}
	up := 1
	for _, lane := range lanes[1:] {
		if err := BringUp(lane, mode); err != nil {
			l.Warnf("Ignoring optional lane: %v", err)
			continue
		}
		up++
	}
	return up, nil
}
