// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package poll implements the bounded busy-wait used during hardware
// bring-up.
package poll

import (
	"errors"
	"time"

	"github.com/jmhodges/clock"
	"github.com/jpillora/backoff"
)

// ErrTimeout is returned when the condition did not become true within
// the policy's timeout.
var ErrTimeout = errors.New("timed out")

// Policy is the fixed timing of one kind of poll.
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
}

var (
	// Link is used for link-up and speed-change polls.
	Link = Policy{Interval: 100 * time.Microsecond, Timeout: time.Second}
	// ATU is used to wait for an iATU region to report enabled.
	ATU = Policy{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}
	// PLL is used by SerDes lanes waiting for their PLL to lock.
	PLL = Policy{Interval: 10 * time.Microsecond, Timeout: 5 * time.Millisecond}
)

// Until evaluates cond until it returns true, an error, or p.Timeout has
// elapsed on clk. The condition is always evaluated once more after the
// deadline passes, so a condition that turns true while sleeping is not
// reported as a timeout.
func Until(clk clock.Clock, p Policy, cond func() (bool, error)) error {
	// Factor 1 with Min == Max keeps every sleep at p.Interval. The
	// controller documents fixed poll intervals, not a growing backoff.
	b := &backoff.Backoff{Min: p.Interval, Max: p.Interval, Factor: 1}
	deadline := clk.Now().Add(p.Timeout)
	for {
		expired := !clk.Now().Before(deadline)
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if expired {
			return ErrTimeout
		}
		clk.Sleep(b.Duration())
	}
}
