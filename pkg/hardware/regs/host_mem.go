// Copyright 2018-2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem is the default path for physical memory.
const DevMem = "/dev/mem"

// HostMemory maps pages of a physical memory device on first use and keeps
// them mapped until Close. Register windows are small and touched many
// times while polling, so mapping per access is not an option.
type HostMemory struct {
	mf    *os.File
	ps    uintptr
	pages map[uintptr][]byte
}

// OpenHostMemory opens path (usually DevMem) for synchronous read/write.
func OpenHostMemory(path string) (*HostMemory, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", path, err)
	}
	return &HostMemory{
		mf:    f,
		ps:    uintptr(unix.Getpagesize()),
		pages: make(map[uintptr][]byte),
	}, nil
}

func (m *HostMemory) page(address uintptr, size uintptr) []byte {
	page := address & ^(m.ps - 1)
	if (address+size-1) & ^(m.ps-1) != page {
		panic(fmt.Sprintf("unaligned access at %#x crosses a page", address))
	}
	mem, ok := m.pages[page]
	if !ok {
		var err error
		mem, err = unix.Mmap(int(m.mf.Fd()), int64(page), int(m.ps), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			panic(fmt.Sprintf("mmap %#x: %v", page, err))
		}
		m.pages[page] = mem
	}
	return mem[address-page:]
}

func (m *HostMemory) MustRead32(address uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(&m.page(address, 4)[0]))
}

func (m *HostMemory) MustRead16(address uintptr) uint16 {
	return *(*uint16)(unsafe.Pointer(&m.page(address, 2)[0]))
}

func (m *HostMemory) MustRead8(address uintptr) uint8 {
	return m.page(address, 1)[0]
}

func (m *HostMemory) MustWrite32(address uintptr, data uint32) {
	*(*uint32)(unsafe.Pointer(&m.page(address, 4)[0])) = data
}

func (m *HostMemory) MustWrite16(address uintptr, data uint16) {
	*(*uint16)(unsafe.Pointer(&m.page(address, 2)[0])) = data
}

func (m *HostMemory) MustWrite8(address uintptr, data uint8) {
	m.page(address, 1)[0] = data
}

func (m *HostMemory) Close() {
	for p, mem := range m.pages {
		if err := unix.Munmap(mem); err != nil {
			log.Errorf("munmap %#x: %v", p, err)
		}
		delete(m.pages, p)
	}
	m.mf.Close()
}
