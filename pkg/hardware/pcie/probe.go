// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcie

import (
	"errors"
	"fmt"
	"io"

	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/metric"
	"github.com/u-root/u-pcie/pkg/pci/topology"
)

// ErrNoSerdes is returned by Probe on parts without the SerDes subsystem.
var ErrNoSerdes = errors.New("SerDes subsystem not present")

// ConfigureWindows programs the two configuration windows followed by
// regions. The region list is validated before any register is touched
// and nothing is programmed while the link is down.
func (c *Controller) ConfigureWindows(regions []config.Region) ([]TranslationWindow, error) {
	all := append(c.cfg.ConfigRegions(), regions...)
	if _, err := c.atu.Plan(all); err != nil {
		return nil, err
	}
	up, err := c.LinkUp()
	if err != nil {
		return nil, err
	}
	if !up {
		return nil, fmt.Errorf("pcie%d: %w", c.cfg.ID, ErrNoLink)
	}
	g, err := c.space.Unlock(roWrEn)
	if err != nil {
		return nil, err
	}
	defer g.Release()
	ws, err := c.atu.Configure(all)
	if err != nil {
		return nil, err
	}
	metric.Windows.WithLabelValues(c.label).Set(float64(len(ws)))
	return ws, nil
}

// Probe brings the controller up as the boot firmware would: device ID,
// link training and, with a link, translation windows and root port
// fixups. A link that does not come up is not an error, the controller
// just has nothing behind it.
func (c *Controller) Probe() error {
	if !c.cfg.SerdesPresent {
		c.log.Infof("SerDes Subsystem not present, skipping PCIe config")
		return ErrNoSerdes
	}
	if err := c.SetDeviceID(); err != nil {
		return fmt.Errorf("pcie%d: %w", c.cfg.ID, err)
	}
	_, err := c.TrainLink()
	if errors.Is(err, ErrNoLink) {
		c.log.Infof("Failed to get link up: %v", err)
		return nil
	}
	if err != nil {
		c.log.Errorf("Failed to set PCIe host settings: %v", err)
		return fmt.Errorf("pcie%d: %w", c.cfg.ID, err)
	}
	if c.cfg.Role != config.RootComplex {
		return nil
	}
	if _, err := c.ConfigureWindows(c.cfg.Regions); err != nil {
		return fmt.Errorf("pcie%d: %w", c.cfg.ID, err)
	}
	if err := c.fixups(); err != nil {
		return fmt.Errorf("pcie%d: %w", c.cfg.ID, err)
	}
	return nil
}

// ShowDevices prints the report header, then for every controller its
// link summary and, for a root complex with a link, the tree of devices
// behind it. Controllers that failed to probe are skipped.
func ShowDevices(w io.Writer, ctrls []*Controller) error {
	header := true
	for _, c := range ctrls {
		if c.outcome == OutcomeFailed || c.outcome == OutcomeNone {
			continue
		}
		if header {
			if _, err := io.WriteString(w, topology.Header); err != nil {
				return err
			}
			header = false
		}
		line, err := c.Summary()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if c.cfg.Role != config.RootComplex {
			continue
		}
		devs, err := topology.New(c, c.cfg.RootBus).All()
		if err != nil {
			return err
		}
		if err := topology.Print(w, devs); err != nil {
			return err
		}
	}
	return nil
}
