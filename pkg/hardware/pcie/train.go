// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcie

import (
	"errors"
	"fmt"

	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/hardware/phy"
	"github.com/u-root/u-pcie/pkg/hardware/poll"
	"github.com/u-root/u-pcie/pkg/metric"
)

// State is a step of link training.
type State int

const (
	Disabled State = iota
	PhyReady
	SpeedGen1Trained
	SpeedNegotiating
	LinkUp
	Failed
)

var stateNames = []string{"Disabled", "PhyReady", "SpeedGen1Trained", "SpeedNegotiating", "LinkUp", "Failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Outcome is how a TrainLink call ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeLinkUp: trained at the negotiated speed.
	OutcomeLinkUp
	// OutcomeNoLink: Gen1 training or the speed change timed out.
	OutcomeNoLink
	// OutcomeDegraded: the speed change completed but the link did not
	// come back to L0.
	OutcomeDegraded
	// OutcomeFailed: a PHY or register error, the controller is unusable.
	OutcomeFailed
	// OutcomeEndpoint: the LTSSM was started, the remote root complex
	// trains the link.
	OutcomeEndpoint
)

var outcomeNames = []string{"none", "link_up", "no_link", "degraded", "failed", "endpoint"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// ErrNoLink matches every TrainingTimeout.
var ErrNoLink = errors.New("link down")

// Training phases reported by TrainingTimeout.
const (
	PhaseGen1        = "Gen1 training"
	PhaseSpeedChange = "speed change"
	PhaseRecheck     = "link recheck"
)

// TrainingTimeout means the link did not come up. The controller is
// still usable, there is just nothing behind it.
type TrainingTimeout struct {
	Controller int
	Phase      string
	Outcome    Outcome
	Err        error
}

func (e *TrainingTimeout) Error() string {
	return fmt.Sprintf("pcie%d: %s: %v", e.Controller, e.Phase, e.Err)
}

func (e *TrainingTimeout) Unwrap() error {
	return e.Err
}

func (e *TrainingTimeout) Is(target error) bool {
	return target == ErrNoLink
}

// TrainLink runs the full bring-up: PHY lanes, controller init, Gen1
// training and the directed speed change to the configured speed.
//
// A link that does not come up is returned as a *TrainingTimeout, which
// matches ErrNoLink. PHY lane 0 and register errors are returned as is
// and leave the controller in the Failed state.
func (c *Controller) TrainLink() (LinkState, error) {
	start := c.clk.Now()
	c.atu.windows = nil
	c.state = Disabled
	c.outcome = OutcomeNone

	err := c.train()
	var tt *TrainingTimeout
	switch {
	case err == nil:
	case errors.As(err, &tt):
		c.state = Failed
		c.outcome = tt.Outcome
		metric.PollTimeouts.WithLabelValues(c.label, tt.Phase).Inc()
	default:
		c.state = Failed
		c.outcome = OutcomeFailed
	}

	s, serr := c.LinkState()
	if serr != nil && err == nil {
		err = serr
	}
	metric.TrainingTotal.WithLabelValues(c.label, c.outcome.String()).Inc()
	metric.TrainingSeconds.WithLabelValues(c.label).Observe(c.clk.Now().Sub(start).Seconds())
	c.observe(s)
	return s, err
}

func (c *Controller) observe(s LinkState) {
	up := 0.0
	if s.Trained {
		up = 1
	}
	metric.LinkUp.WithLabelValues(c.label).Set(up)
	metric.LinkSpeed.WithLabelValues(c.label).Set(float64(s.Speed))
	metric.LinkWidth.WithLabelValues(c.label).Set(float64(s.Width))
}

func (c *Controller) train() error {
	if err := c.setLTSSM(false); err != nil {
		return err
	}
	if _, err := phy.BringUpLanes(c.lanes, c.cfg.PhyMode, c.log); err != nil {
		return err
	}
	if err := c.Init(); err != nil {
		return err
	}
	c.state = PhyReady

	if c.cfg.Role != config.RootComplex {
		c.outcome = OutcomeEndpoint
		return c.setLTSSM(true)
	}

	if err := c.setLinkCapSpeed(config.Gen1); err != nil {
		return err
	}
	if err := c.setLTSSM(true); err != nil {
		return err
	}
	if err := c.waitLink(PhaseGen1, OutcomeNoLink); err != nil {
		return err
	}
	c.state = SpeedGen1Trained

	if err := c.startSpeedChange(); err != nil {
		return err
	}
	c.state = SpeedNegotiating
	err := poll.Until(c.clk, poll.Link, func() (bool, error) {
		v, err := c.space.Read32(WinDBI, LinkWidthSpeed)
		return v&SpeedChange == 0, err
	})
	if err != nil {
		c.log.Errorf("Speed change timeout")
		return c.timeout(PhaseSpeedChange, OutcomeNoLink, err)
	}

	if err := c.waitLink(PhaseRecheck, OutcomeDegraded); err != nil {
		c.log.Debugf("Failed to stabilize PHY link")
		return err
	}
	c.state = LinkUp
	c.outcome = OutcomeLinkUp
	s, err := c.LinkState()
	if err != nil {
		return err
	}
	c.log.Infof("%v", s)
	return nil
}

func (c *Controller) waitLink(phase string, o Outcome) error {
	err := poll.Until(c.clk, poll.Link, c.hasDataPhyLink)
	return c.timeout(phase, o, err)
}

// timeout turns a poll timeout into a TrainingTimeout and passes other
// errors through.
func (c *Controller) timeout(phase string, o Outcome, err error) error {
	if errors.Is(err, poll.ErrTimeout) {
		return &TrainingTimeout{Controller: c.cfg.ID, Phase: phase, Outcome: o, Err: err}
	}
	return err
}

func (c *Controller) setLinkCapSpeed(s config.Speed) error {
	off, err := c.expCap()
	if err != nil {
		return err
	}
	g, err := c.space.Unlock(roWrEn)
	if err != nil {
		return err
	}
	defer g.Release()
	return c.space.Modify32(WinDBI, off+ExpLinkCap, LinkCapSpeedMask, uint32(s))
}

// startSpeedChange advertises the target speed and asks the controller to
// retrain to it. The controller clears SpeedChange when it is done.
func (c *Controller) startSpeedChange() error {
	g, err := c.space.Unlock(roWrEn)
	if err != nil {
		return err
	}
	defer g.Release()
	if err := c.setLinkCapSpeed(c.maxSpeed); err != nil {
		return err
	}
	return c.space.Modify32(WinDBI, LinkWidthSpeed, 0, SpeedChange)
}
