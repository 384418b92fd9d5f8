// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pcie

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/hardware/poll"
	"github.com/u-root/u-pcie/pkg/hardware/regs"
	"go.uber.org/zap"
)

// TranslationWindow is one programmed outbound iATU region.
type TranslationWindow struct {
	Index    int
	Kind     config.RegionKind
	PhysBase uint64
	BusBase  uint64
	Size     uint64
}

func (w TranslationWindow) limit() uint64 {
	return w.PhysBase + w.Size - 1
}

// TranslationOverflow is returned when more regions are requested than
// the iATU has. Nothing is written in that case.
type TranslationOverflow struct {
	Requested int
	Max       int
}

func (e *TranslationOverflow) Error() string {
	return fmt.Sprintf("%d outbound windows requested, hardware has %d", e.Requested, e.Max)
}

// ErrATUEnable is returned when a region does not report enabled after
// programming.
var ErrATUEnable = errors.New("outbound iATU is not being enabled")

// Table programs the outbound iATU regions.
type Table struct {
	space   *regs.Space
	clk     clock.Clock
	log     *zap.SugaredLogger
	max     int
	windows []TranslationWindow
}

func newTable(space *regs.Space, clk clock.Clock, l *zap.SugaredLogger) *Table {
	return &Table{space: space, clk: clk, log: l, max: MaxOutboundWindows}
}

// Max is the number of outbound regions.
func (t *Table) Max() int {
	return t.max
}

// Windows returns the regions programmed by the last Configure.
func (t *Table) Windows() []TranslationWindow {
	return append([]TranslationWindow(nil), t.windows...)
}

func atuType(k config.RegionKind) uint32 {
	switch k {
	case config.ConfigLower:
		return atuTypeCfg0
	case config.ConfigUpper:
		return atuTypeCfg1
	case config.IO:
		return atuTypeIO
	}
	return atuTypeMem
}

// Plan orders regions config lower, config upper, I/O, memory,
// prefetchable memory and assigns indices from 0. It checks everything
// Configure would write.
func (t *Table) Plan(regions []config.Region) ([]TranslationWindow, error) {
	if len(regions) > t.max {
		return nil, &TranslationOverflow{Requested: len(regions), Max: t.max}
	}
	rs := append([]config.Region(nil), regions...)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Kind < rs[j].Kind })
	ws := make([]TranslationWindow, 0, len(rs))
	for i, r := range rs {
		if i > 0 && rs[i-1].Kind == r.Kind {
			return nil, fmt.Errorf("more than one %v region", r.Kind)
		}
		if r.Kind < config.ConfigLower || r.Kind > config.PrefetchMem {
			return nil, fmt.Errorf("unknown region kind %v", r.Kind)
		}
		w := TranslationWindow{Index: i, Kind: r.Kind, PhysBase: r.PhysBase, BusBase: r.BusBase, Size: r.Size}
		if w.Size == 0 {
			return nil, fmt.Errorf("%v region is empty", r.Kind)
		}
		if w.limit() < w.PhysBase || w.limit()>>32 != w.PhysBase>>32 {
			return nil, fmt.Errorf("%v region %#x+%#x crosses a 4 GiB boundary", r.Kind, r.PhysBase, r.Size)
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// Configure rebuilds the table from scratch: the regions are programmed
// from index 0 in Plan order and every remaining region is disabled.
// Calling it twice with the same regions leaves the same register state.
func (t *Table) Configure(regions []config.Region) ([]TranslationWindow, error) {
	ws, err := t.Plan(regions)
	if err != nil {
		return nil, err
	}
	t.windows = nil
	t.log.Debugf("Create outbound windows")
	for _, w := range ws {
		if err := t.program(w); err != nil {
			return nil, err
		}
		t.windows = append(t.windows, w)
	}
	for i := len(ws); i < t.max; i++ {
		if err := t.space.Write32(WinATU, atuRegion(i)+atuCtrl2, 0); err != nil {
			return nil, err
		}
	}
	t.dump()
	return t.Windows(), nil
}

func (t *Table) program(w TranslationWindow) error {
	r := atuRegion(w.Index)
	for _, reg := range []struct {
		off uint32
		v   uint32
	}{
		{atuLowerBase, uint32(w.PhysBase)},
		{atuUpperBase, uint32(w.PhysBase >> 32)},
		{atuLimit, uint32(w.limit())},
		{atuLowerTarget, uint32(w.BusBase)},
		{atuUpperTarget, uint32(w.BusBase >> 32)},
		{atuCtrl1, atuType(w.Kind)},
		{atuCtrl2, atuEnable},
	} {
		if err := t.space.Write32(WinATU, r+reg.off, reg.v); err != nil {
			return err
		}
	}
	err := poll.Until(t.clk, poll.ATU, func() (bool, error) {
		v, err := t.space.Read32(WinATU, r+atuCtrl2)
		return v&atuEnable != 0, err
	})
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("region %d: %w", w.Index, ErrATUEnable)
	}
	return err
}

// setTarget retargets a configuration window.
func (t *Table) setTarget(index int, target uint32) error {
	return t.space.Write32(WinATU, atuRegion(index)+atuLowerTarget, target)
}

var dumpRegs = []struct {
	name string
	off  uint32
}{
	{"LOWER BASE", atuLowerBase},
	{"UPPER BASE", atuUpperBase},
	{"LIMIT     ", atuLimit},
	{"LOWER TARG", atuLowerTarget},
	{"UPPER TARG", atuUpperTarget},
	{"CR1       ", atuCtrl1},
	{"CR2       ", atuCtrl2},
}

// Dump writes the registers of every programmed region, outbound then
// inbound.
func (t *Table) Dump(w io.Writer) error {
	for _, dir := range []struct {
		name string
		off  uint32
	}{{"OUTBOUND", 0}, {"INBOUND", atuInbound}} {
		for _, win := range t.windows {
			if _, err := fmt.Fprintf(w, "iATU%d %s (%v):\n", win.Index, dir.name, win.Kind); err != nil {
				return err
			}
			for _, r := range dumpRegs {
				v, err := t.space.Read32(WinATU, atuRegion(win.Index)+dir.off+r.off)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "\t%s 0x%08x\n", r.name, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type debugWriter struct {
	log *zap.SugaredLogger
}

func (d debugWriter) Write(p []byte) (int, error) {
	d.log.Debug(string(p))
	return len(p), nil
}

func (t *Table) dump() {
	if !t.log.Desugar().Core().Enabled(zap.DebugLevel) {
		return
	}
	if err := t.Dump(debugWriter{t.log}); err != nil {
		t.log.Debugf("iATU dump: %v", err)
	}
}
