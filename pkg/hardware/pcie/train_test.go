// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcie

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/hardware/phy"
	"github.com/u-root/u-pcie/pkg/hardware/poll"
	"github.com/u-root/u-pcie/pkg/metric"
)

func TestTrainLinkGen3CRNS(t *testing.T) {
	s := newSim()
	c := s.controller(t, testConfig(100))
	st, err := c.TrainLink()
	if err != nil {
		t.Fatal(err)
	}
	want := LinkState{Trained: true, Width: 1, Speed: config.Gen3, LTSSMActive: true}
	if st != want {
		t.Errorf("Expected %+v, got %+v", want, st)
	}
	if c.State() != LinkUp || c.Outcome() != OutcomeLinkUp {
		t.Errorf("Expected LinkUp/link_up, got %v/%v", c.State(), c.Outcome())
	}
	if got := s.mem.Peek(linkCap, 4) & LinkCapSpeedMask; got != uint32(config.Gen3) {
		t.Errorf("Expected advertised Gen3, got %d", got)
	}
	if s.mem.Peek(dbiBase+MiscControl1, 4)&1 != 0 {
		t.Errorf("DBI left writable")
	}
	if got := testutil.ToFloat64(metric.LinkUp.WithLabelValues("100")); got != 1 {
		t.Errorf("Expected link up gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(metric.TrainingTotal.WithLabelValues("100", "link_up")); got != 1 {
		t.Errorf("Expected one link_up training, got %v", got)
	}
}

func TestTrainLinkTwoLanes(t *testing.T) {
	s := newSim()
	cfg := testConfig(101)
	cfg.Lanes = 2
	st, err := s.controller(t, cfg).TrainLink()
	if err != nil {
		t.Fatal(err)
	}
	if st.Width != 2 {
		t.Errorf("Expected X2, got X%d", st.Width)
	}
}

func TestSpeedNeverExceedsMax(t *testing.T) {
	for _, max := range []config.Speed{config.Gen1, config.Gen2, config.Gen3} {
		for _, partner := range []config.Speed{config.Gen1, config.Gen2, config.Gen3} {
			s := newSim()
			s.partner = partner
			cfg := testConfig(102)
			cfg.MaxSpeed = max
			st, err := s.controller(t, cfg).TrainLink()
			if err != nil {
				t.Fatalf("max %v partner %v: %v", max, partner, err)
			}
			want := max
			if partner < want {
				want = partner
			}
			if st.Speed != want {
				t.Errorf("max %v partner %v: Expected %v, got %v", max, partner, want, st.Speed)
			}
		}
	}
}

func TestEffectiveSpeed(t *testing.T) {
	for _, tc := range []struct {
		mode     config.PhyMode
		external bool
		max      config.Speed
		want     config.Speed
	}{
		{config.SRNS, false, config.Gen3, config.Gen2},
		{config.SRNS, false, config.Gen2, config.Gen2},
		{config.SRNS, false, config.Gen1, config.Gen1},
		{config.SRNS, true, config.Gen3, config.Gen3},
		{config.SRIS, false, config.Gen3, config.Gen3},
		{config.CRNS, false, config.Gen3, config.Gen3},
		{config.CRNS, false, config.Speed(9), config.Gen1},
	} {
		cfg := testConfig(0)
		cfg.PhyMode, cfg.ExternalClock, cfg.MaxSpeed = tc.mode, tc.external, tc.max
		if got := EffectiveSpeed(cfg); got != tc.want {
			t.Errorf("%v external=%v max=%v: Expected %v, got %v", tc.mode, tc.external, tc.max, tc.want, got)
		}
	}
}

func TestSRNSInternalClockTrainsAtGen2(t *testing.T) {
	s := newSim()
	cfg := testConfig(103)
	cfg.PhyMode = config.SRNS
	st, err := s.controller(t, cfg).TrainLink()
	if err != nil {
		t.Fatal(err)
	}
	if st.Speed > config.Gen2 {
		t.Errorf("Expected at most Gen2, got %v", st.Speed)
	}
}

func TestLane0FailureNoLTSSMEnable(t *testing.T) {
	s := newSim()
	s.pllStuck[0] = true
	s.mem.Record = true
	c := s.controller(t, testConfig(104))
	st, err := c.TrainLink()
	var pe *phy.PhyError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected PhyError, got %v", err)
	}
	if pe.Lane != WinLane0 || !errors.Is(err, phy.ErrPLLLock) {
		t.Errorf("Expected lane 0 PLL failure, got %v", err)
	}
	if errors.Is(err, ErrNoLink) {
		t.Errorf("Lane 0 failure must not look like a missing link")
	}
	if c.State() != Failed || c.Outcome() != OutcomeFailed {
		t.Errorf("Expected Failed/failed, got %v/%v", c.State(), c.Outcome())
	}
	if st.Trained || st.LTSSMActive {
		t.Errorf("Expected no link, got %+v", st)
	}
	if wrote(s.mem, ctrlBase+GenCtrl3, LTSSMEnable) {
		t.Errorf("LTSSM enabled after lane 0 failure")
	}
	if s.mem.Peek(dbiBase+MiscControl1, 4)&1 != 0 {
		t.Errorf("DBI left writable")
	}
}

func TestLane1FailureIgnored(t *testing.T) {
	s := newSim()
	s.pllStuck[1] = true
	cfg := testConfig(105)
	cfg.Lanes = 2
	st, err := s.controller(t, cfg).TrainLink()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Trained || st.Width != 1 {
		t.Errorf("Expected trained X1, got %+v", st)
	}
}

func TestGen1Timeout(t *testing.T) {
	s := newSim()
	s.partner = 0
	c := s.controller(t, testConfig(106))
	start := c.clk.Now()
	st, err := c.TrainLink()
	if !errors.Is(err, ErrNoLink) || !errors.Is(err, poll.ErrTimeout) {
		t.Fatalf("Expected link timeout, got %v", err)
	}
	var tt *TrainingTimeout
	if !errors.As(err, &tt) || tt.Phase != PhaseGen1 {
		t.Fatalf("Expected Gen1 TrainingTimeout, got %v", err)
	}
	if st.Trained || !st.LTSSMActive {
		t.Errorf("Expected untrained link with LTSSM on, got %+v", st)
	}
	if c.Outcome() != OutcomeNoLink || c.State() != Failed {
		t.Errorf("Expected Failed/no_link, got %v/%v", c.State(), c.Outcome())
	}
	if d := c.clk.Now().Sub(start); d < poll.Link.Timeout {
		t.Errorf("Expected to wait the full budget, waited %v", d)
	}
	if got := testutil.ToFloat64(metric.PollTimeouts.WithLabelValues("106", PhaseGen1)); got != 1 {
		t.Errorf("Expected one poll timeout, got %v", got)
	}
}

func TestSpeedChangeTimeout(t *testing.T) {
	s := newSim()
	s.speedChangeStuck = true
	c := s.controller(t, testConfig(107))
	_, err := c.TrainLink()
	var tt *TrainingTimeout
	if !errors.As(err, &tt) || tt.Phase != PhaseSpeedChange {
		t.Fatalf("Expected speed change timeout, got %v", err)
	}
	if c.Outcome() != OutcomeNoLink {
		t.Errorf("Expected no_link, got %v", c.Outcome())
	}
}

func TestRecheckDegraded(t *testing.T) {
	s := newSim()
	s.recheckFails = true
	c := s.controller(t, testConfig(108))
	st, err := c.TrainLink()
	var tt *TrainingTimeout
	if !errors.As(err, &tt) || tt.Phase != PhaseRecheck {
		t.Fatalf("Expected recheck timeout, got %v", err)
	}
	if c.Outcome() != OutcomeDegraded {
		t.Errorf("Expected degraded, got %v", c.Outcome())
	}
	if c.Outcome() == OutcomeNoLink {
		t.Errorf("Degraded and no link must be distinct")
	}
	if st.Trained {
		t.Errorf("Expected no link after failed recheck, got %+v", st)
	}
}

func TestTrainLinkEndpoint(t *testing.T) {
	s := newSim()
	cfg := testConfig(109)
	cfg.Role = config.Endpoint
	c := s.controller(t, cfg)
	if _, err := c.TrainLink(); err != nil {
		t.Fatal(err)
	}
	if c.Outcome() != OutcomeEndpoint {
		t.Errorf("Expected endpoint outcome, got %v", c.Outcome())
	}
	if got := s.mem.Peek(ctrlBase+GenCtrl1, 4) & DeviceTypeMask; got != DeviceTypeEP {
		t.Errorf("Expected EP device type, got %#x", got)
	}
	if s.mem.Peek(ctrlBase+GenCtrl3, 4)&LTSSMEnable == 0 {
		t.Errorf("Expected LTSSM enabled")
	}
}

func TestLinkStateNotCached(t *testing.T) {
	s := newSim()
	c := s.controller(t, testConfig(110))
	if _, err := c.TrainLink(); err != nil {
		t.Fatal(err)
	}
	s.mem.Poke(ctrlBase+LinkDbg2, 4, 0)
	st, err := c.LinkState()
	if err != nil {
		t.Fatal(err)
	}
	if st.Trained {
		t.Errorf("Expected link state to follow the hardware")
	}
	up, err := c.LinkUp()
	if err != nil || up {
		t.Errorf("Expected LinkUp false, got %v %v", up, err)
	}
}

func TestStateString(t *testing.T) {
	if Failed.String() != "Failed" || SpeedGen1Trained.String() != "SpeedGen1Trained" {
		t.Errorf("Unexpected state names")
	}
	if OutcomeDegraded.String() != "degraded" || Outcome(42).String() != "Outcome(42)" {
		t.Errorf("Unexpected outcome names")
	}
}
