// Copyright 2018-2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

import (
	"testing"
)

type fakeMem struct {
	t   *testing.T
	ops []Access
}

func (m *fakeMem) next(write bool, a uintptr, size int, d uint32) Access {
	m.t.Helper()
	if len(m.ops) == 0 {
		m.t.Fatalf("Unexpected %s", Access{write, a, size, d})
	}
	o := m.ops[0]
	m.ops = m.ops[1:]
	if o.Write != write || o.Address != a || o.Size != size || (write && o.Data != d) {
		m.t.Errorf("Expected %s, got %s", o, Access{write, a, size, d})
	}
	return o
}

func (m *fakeMem) MustRead32(a uintptr) uint32 { return m.next(false, a, 4, 0).Data }
func (m *fakeMem) MustRead16(a uintptr) uint16 { return uint16(m.next(false, a, 2, 0).Data) }
func (m *fakeMem) MustRead8(a uintptr) uint8   { return uint8(m.next(false, a, 1, 0).Data) }

func (m *fakeMem) MustWrite32(a uintptr, d uint32) { m.next(true, a, 4, d) }
func (m *fakeMem) MustWrite16(a uintptr, d uint16) { m.next(true, a, 2, uint32(d)) }
func (m *fakeMem) MustWrite8(a uintptr, d uint8)   { m.next(true, a, 1, uint32(d)) }

func (m *fakeMem) ExpectWrite32(a uintptr, d uint32) {
	m.ops = append(m.ops, Access{true, a, 4, d})
}

func (m *fakeMem) ExpectWrite8(a uintptr, d uint8) {
	m.ops = append(m.ops, Access{true, a, 1, uint32(d)})
}

func (m *fakeMem) FakeRead32(a uintptr, d uint32) {
	m.ops = append(m.ops, Access{false, a, 4, d})
}

func (m *fakeMem) FakeRead16(a uintptr, d uint16) {
	m.ops = append(m.ops, Access{false, a, 2, uint32(d)})
}

func (m *fakeMem) Close() {
}

func (m *fakeMem) Done() {
	m.t.Helper()
	for _, o := range m.ops {
		m.t.Errorf("Expected %s, never happened", o)
	}
}

func fakeMemory(t *testing.T) *fakeMem {
	return &fakeMem{t, make([]Access, 0)}
}
