// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs gives typed, bounds-checked access to named windows of
// memory-mapped registers.
//
// A controller usually has several register blocks at unrelated physical
// addresses (controller glue, DBI, iATU, ...). Each one becomes a Window
// and every access names the window it targets, so an offset can never
// wander into a neighbouring block by accident.
package regs

import (
	"errors"
	"fmt"

	"github.com/u-root/u-pcie/pkg/logger"
	"go.uber.org/zap"
)

var log = logger.LogContainer.GetSimpleLogger()

// ErrInvalidAccess is wrapped by every RegisterAccessError.
var ErrInvalidAccess = errors.New("invalid register access")

// RegisterAccessError reports an access to an unknown window, outside a
// window, or with an unsupported width. It is never retried.
type RegisterAccessError struct {
	Window string
	Offset uint32
	Width  int
	Reason string
}

func (e *RegisterAccessError) Error() string {
	return fmt.Sprintf("%s+%#x (%d byte): %s", e.Window, e.Offset, e.Width, e.Reason)
}

func (e *RegisterAccessError) Unwrap() error {
	return ErrInvalidAccess
}

// Window is a named block of registers.
type Window struct {
	Name string
	Base uintptr
	Size uint32
}

// Space is a set of windows backed by one MemProvider.
type Space struct {
	mem     MemProvider
	windows map[string]Window
	latches map[Latch]int
	log     *zap.SugaredLogger
}

// NewSpace validates the windows and returns a space over mem.
func NewSpace(mem MemProvider, windows ...Window) (*Space, error) {
	s := &Space{
		mem:     mem,
		windows: make(map[string]Window, len(windows)),
		latches: make(map[Latch]int),
		log:     log,
	}
	for _, w := range windows {
		if w.Name == "" {
			return nil, fmt.Errorf("window at %#x has no name", w.Base)
		}
		if w.Size == 0 {
			return nil, fmt.Errorf("window %s has zero size", w.Name)
		}
		if _, ok := s.windows[w.Name]; ok {
			return nil, fmt.Errorf("duplicate window %s", w.Name)
		}
		s.windows[w.Name] = w
	}
	return s, nil
}

// WithLogger replaces the logger used for the write trace.
func (s *Space) WithLogger(l *zap.SugaredLogger) *Space {
	s.log = l
	return s
}

// Window returns the named window.
func (s *Space) Window(name string) (Window, bool) {
	w, ok := s.windows[name]
	return w, ok
}

// Mem returns the underlying memory provider.
func (s *Space) Mem() MemProvider {
	return s.mem
}

func (s *Space) resolve(window string, offset uint32, width int) (uintptr, error) {
	w, ok := s.windows[window]
	if !ok {
		return 0, &RegisterAccessError{window, offset, width, "no such window"}
	}
	switch width {
	case 1, 2, 4:
	default:
		return 0, &RegisterAccessError{window, offset, width, "unsupported width"}
	}
	if offset%uint32(width) != 0 {
		return 0, &RegisterAccessError{window, offset, width, "misaligned"}
	}
	if uint64(offset)+uint64(width) > uint64(w.Size) {
		return 0, &RegisterAccessError{window, offset, width, fmt.Sprintf("outside window of %#x bytes", w.Size)}
	}
	return w.Base + uintptr(offset), nil
}

// Read returns the width-byte register at offset in window.
func (s *Space) Read(window string, offset uint32, width int) (uint32, error) {
	a, err := s.resolve(window, offset, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint32(s.mem.MustRead8(a)), nil
	case 2:
		return uint32(s.mem.MustRead16(a)), nil
	}
	return s.mem.MustRead32(a), nil
}

// Write stores the low width bytes of v at offset in window.
func (s *Space) Write(window string, offset uint32, width int, v uint32) error {
	a, err := s.resolve(window, offset, width)
	if err != nil {
		return err
	}
	s.log.Debugf("W%d(%s+0x%x, 0x%x)", width*8, window, offset, v)
	switch width {
	case 1:
		s.mem.MustWrite8(a, uint8(v))
	case 2:
		s.mem.MustWrite16(a, uint16(v))
	default:
		s.mem.MustWrite32(a, v)
	}
	return nil
}

func (s *Space) Read32(window string, offset uint32) (uint32, error) {
	return s.Read(window, offset, 4)
}

func (s *Space) Write32(window string, offset uint32, v uint32) error {
	return s.Write(window, offset, 4, v)
}

// Modify32 does a read-modify-write: bits in clear are cleared, then bits
// in set are set.
func (s *Space) Modify32(window string, offset uint32, clear, set uint32) error {
	v, err := s.Read32(window, offset)
	if err != nil {
		return err
	}
	return s.Write32(window, offset, v&^clear|set)
}
