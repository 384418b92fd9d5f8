// Copyright 2018-2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

// MemProvider is raw physical memory access. Implementations panic on
// failure; Space is the layer that turns bad accesses into errors before
// they get here.
type MemProvider interface {
	MustRead32(uintptr) uint32
	MustRead16(uintptr) uint16
	MustRead8(uintptr) uint8
	MustWrite32(uintptr, uint32)
	MustWrite16(uintptr, uint16)
	MustWrite8(uintptr, uint8)
	Close()
}
