// Copyright 2018-2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"sort"
	"strings"
)

// Variant is an S32 SoC part number.
type Variant int

const (
	S32G233A Variant = iota + 1
	S32G254A
	S32G274A
	S32G358A
	S32G359A
	S32G378A
	S32G379A
	S32G398A
	S32G399A
	S32R455A
	S32R458A
)

const mib = 1 << 20

var (
	variantNames = map[Variant]string{
		S32G233A: "S32G233A",
		S32G254A: "S32G254A",
		S32G274A: "S32G274A",
		S32G358A: "S32G358A",
		S32G359A: "S32G359A",
		S32G378A: "S32G378A",
		S32G379A: "S32G379A",
		S32G398A: "S32G398A",
		S32G399A: "S32G399A",
		S32R455A: "S32R455A",
		S32R458A: "S32R458A",
	}

	sramSizes = map[Variant]uint32{
		S32G233A: 6 * mib,
		S32G254A: 8 * mib,
		S32G274A: 8 * mib,
		S32G358A: 15 * mib,
		S32G359A: 20 * mib,
		S32G378A: 15 * mib,
		S32G379A: 20 * mib,
		S32G398A: 15 * mib,
		S32G399A: 20 * mib,
		S32R455A: 8 * mib,
		S32R458A: 8 * mib,
	}

	// Reverse map of variantNames
	nameVariants map[string]Variant
)

func init() {
	nameVariants = make(map[string]Variant)
	for k, v := range variantNames {
		nameVariants[v] = k
	}
}

func (v Variant) String() string {
	if s, ok := variantNames[v]; ok {
		return s
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant looks up a part number, ignoring case.
func ParseVariant(s string) (Variant, bool) {
	v, ok := nameVariants[strings.ToUpper(s)]
	return v, ok
}

// Variants returns every known part in part number order.
func Variants() []Variant {
	vs := make([]Variant, 0, len(variantNames))
	for v := range variantNames {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	return vs
}

// SRAMSize returns the size in bytes of the on-chip SRAM of v.
func SRAMSize(v Variant) (uint32, error) {
	s, ok := sramSizes[v]
	if !ok {
		return 0, fmt.Errorf("failed to get SRAM size of %v", v)
	}
	return s, nil
}
