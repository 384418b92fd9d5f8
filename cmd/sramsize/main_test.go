// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"testing"
)

func TestSRAMSize(t *testing.T) {
	var b bytes.Buffer
	if err := sramSize(&b, []string{"s32g233a", "S32G399A"}); err != nil {
		t.Fatal(err)
	}
	want := "S32G233A: 6 MiB (0x600000)\nS32G399A: 20 MiB (0x1400000)\n"
	if b.String() != want {
		t.Errorf("Expected %q, got %q", want, b.String())
	}
	if err := sramSize(&b, []string{"S32K3"}); err == nil {
		t.Errorf("Expected unknown part error")
	}
}
