// Copyright 2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// sramsize prints the on-chip SRAM size of an S32 part.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/u-root/u-pcie/pkg/logger"
	"github.com/u-root/u-pcie/pkg/platform"
)

var (
	list = flag.Bool("list", false, "List the SRAM size of every known part")

	log = logger.LogContainer.GetSimpleLogger()
)

func sramSize(w io.Writer, names []string) error {
	for _, n := range names {
		v, ok := platform.ParseVariant(n)
		if !ok {
			return fmt.Errorf("unknown part %q", n)
		}
		s, err := platform.SRAMSize(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d MiB (%#x)\n", v, s>>20, s)
	}
	return nil
}

func main() {
	flag.Parse()
	names := flag.Args()
	if *list {
		names = nil
		for _, v := range platform.Variants() {
			names = append(names, v.String())
		}
	}
	if len(names) == 0 {
		fmt.Fprintf(os.Stderr, "usage: sramsize [-list] PART...\n")
		os.Exit(2)
	}
	if err := sramSize(os.Stdout, names); err != nil {
		log.Fatalf("%v", err)
	}
}
