// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

// Latch is a single write-enable bit that unprotects otherwise read-only
// registers while it is set.
type Latch struct {
	Window string
	Offset uint32
	Bit    uint
}

// Guard holds a latch open. Release it with defer right after a
// successful Unlock:
//
//	g, err := s.Unlock(latch)
//	if err != nil {
//		return err
//	}
//	defer g.Release()
//
// Guards nest. The latch is set by the outermost Unlock and cleared by the
// matching outermost Release.
type Guard struct {
	s        *Space
	l        Latch
	released bool
}

// Unlock sets the latch (unless already held) and returns its guard.
func (s *Space) Unlock(l Latch) (*Guard, error) {
	if s.latches[l] == 0 {
		if err := s.Modify32(l.Window, l.Offset, 0, 1<<l.Bit); err != nil {
			return nil, err
		}
	}
	s.latches[l]++
	return &Guard{s: s, l: l}, nil
}

// Release drops the guard. Releasing twice is a no-op.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	s := g.s
	s.latches[g.l]--
	if s.latches[g.l] > 0 {
		return
	}
	delete(s.latches, g.l)
	if err := s.Modify32(g.l.Window, g.l.Offset, 1<<g.l.Bit, 0); err != nil {
		// The latch was readable a moment ago in Unlock.
		s.log.Errorf("Failed to re-protect %s+%#x: %v", g.l.Window, g.l.Offset, err)
	}
}

// Held reports whether the latch is currently held by any guard.
func (s *Space) Held(l Latch) bool {
	return s.latches[l] > 0
}
