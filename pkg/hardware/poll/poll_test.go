// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poll

import (
	"errors"
	"testing"
	"time"

	"github.com/jmhodges/clock"
)

func TestUntilSucceeds(t *testing.T) {
	clk := clock.NewFake()
	start := clk.Now()
	n := 0
	err := Until(clk, Link, func() (bool, error) {
		n++
		return n == 5, nil
	})
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if got, want := clk.Now().Sub(start), 4*Link.Interval; got != want {
		t.Errorf("Waited %v, want %v", got, want)
	}
}

func TestUntilTimesOut(t *testing.T) {
	clk := clock.NewFake()
	start := clk.Now()
	n := 0
	err := Until(clk, Link, func() (bool, error) {
		n++
		return false, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Until = %v, want ErrTimeout", err)
	}
	if got := clk.Now().Sub(start); got < Link.Timeout || got > Link.Timeout+Link.Interval {
		t.Errorf("Gave up after %v, want about %v", got, Link.Timeout)
	}
	if want := int(Link.Timeout/Link.Interval) + 1; n != want {
		t.Errorf("Condition evaluated %d times, want %d", n, want)
	}
}

func TestUntilIntervalIsConstant(t *testing.T) {
	for name, p := range map[string]Policy{"link": Link, "atu": ATU, "pll": PLL} {
		clk := clock.NewFake()
		last := clk.Now()
		n := 0
		Until(clk, p, func() (bool, error) {
			now := clk.Now()
			if n > 0 && now.Sub(last) != p.Interval {
				t.Errorf("%s: sleep %d lasted %v, want %v", name, n, now.Sub(last), p.Interval)
			}
			last = now
			n++
			return false, nil
		})
		if want := int(p.Timeout/p.Interval) + 1; n != want {
			t.Errorf("%s: condition evaluated %d times, want %d", name, n, want)
		}
	}
}

func TestUntilPropagatesError(t *testing.T) {
	clk := clock.NewFake()
	bad := errors.New("bus error")
	n := 0
	err := Until(clk, ATU, func() (bool, error) {
		n++
		return false, bad
	})
	if err != bad || n != 1 {
		t.Errorf("Until = %v after %d calls, want %v after 1", err, n, bad)
	}
}

func TestUntilLastChance(t *testing.T) {
	clk := clock.NewFake()
	start := clk.Now()
	p := Policy{Interval: 30 * time.Millisecond, Timeout: 50 * time.Millisecond}
	err := Until(clk, p, func() (bool, error) {
		return clk.Now().Sub(start) >= 60*time.Millisecond, nil
	})
	if err != nil {
		t.Errorf("Condition true on the final evaluation reported %v", err)
	}
}
