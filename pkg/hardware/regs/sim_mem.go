// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

import (
	"fmt"
)

// Access is one recorded memory operation.
type Access struct {
	Write   bool
	Address uintptr
	Size    int
	Data    uint32
}

func (a Access) String() string {
	t := "read"
	if a.Write {
		t = "write"
	}
	return fmt.Sprintf("{%s @ %08x, %v bit = %08x}", t, a.Address, a.Size*8, a.Data)
}

// SimMemory is a sparse little-endian memory that stands in for hardware
// in tests and dry runs. Unwritten bytes read as zero.
//
// OnWrite runs after every write has landed and may change memory itself
// to model side effects, e.g. a status bit that follows a control bit.
type SimMemory struct {
	bytes   map[uintptr]byte
	OnWrite func(m *SimMemory, a Access)
	// Log records every access when Record is set.
	Log    []Access
	Record bool
}

func NewSimMemory() *SimMemory {
	return &SimMemory{bytes: make(map[uintptr]byte)}
}

// Peek reads without recording or side effects.
func (m *SimMemory) Peek(address uintptr, size int) uint32 {
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(m.bytes[address+uintptr(i)])
	}
	return v
}

// Poke writes without recording or side effects.
func (m *SimMemory) Poke(address uintptr, size int, v uint32) {
	for i := 0; i < size; i++ {
		m.bytes[address+uintptr(i)] = byte(v >> (8 * i))
	}
}

// Snapshot copies the current contents.
func (m *SimMemory) Snapshot() map[uintptr]byte {
	s := make(map[uintptr]byte, len(m.bytes))
	for k, v := range m.bytes {
		s[k] = v
	}
	return s
}

// Writes returns the recorded writes, in order.
func (m *SimMemory) Writes() []Access {
	var w []Access
	for _, a := range m.Log {
		if a.Write {
			w = append(w, a)
		}
	}
	return w
}

func (m *SimMemory) read(address uintptr, size int) uint32 {
	v := m.Peek(address, size)
	if m.Record {
		m.Log = append(m.Log, Access{false, address, size, v})
	}
	return v
}

func (m *SimMemory) write(address uintptr, size int, v uint32) {
	m.Poke(address, size, v)
	a := Access{true, address, size, v}
	if m.Record {
		m.Log = append(m.Log, a)
	}
	if m.OnWrite != nil {
		m.OnWrite(m, a)
	}
}

func (m *SimMemory) MustRead32(a uintptr) uint32 { return m.read(a, 4) }
func (m *SimMemory) MustRead16(a uintptr) uint16 { return uint16(m.read(a, 2)) }
func (m *SimMemory) MustRead8(a uintptr) uint8   { return uint8(m.read(a, 1)) }

func (m *SimMemory) MustWrite32(a uintptr, d uint32) { m.write(a, 4, d) }
func (m *SimMemory) MustWrite16(a uintptr, d uint16) { m.write(a, 2, uint32(d)) }
func (m *SimMemory) MustWrite8(a uintptr, d uint8)   { m.write(a, 1, uint32(d)) }

func (m *SimMemory) Close() {}
