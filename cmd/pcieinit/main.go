// Copyright 2018-2024 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// pcieinit brings up the PCIe controllers of an S32 board and prints the
// devices found behind each root port.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/jmhodges/clock"
	"github.com/spf13/afero"
	"github.com/u-root/u-pcie/config"
	"github.com/u-root/u-pcie/pkg/hardware/pcie"
	"github.com/u-root/u-pcie/pkg/hardware/regs"
	"github.com/u-root/u-pcie/pkg/logger"
	"github.com/u-root/u-pcie/pkg/metric"
	"github.com/u-root/u-pcie/pkg/platform"
	"go.uber.org/zap/zapcore"
)

var (
	board   = flag.String("board", config.DefaultConfig.Board, "Built-in board to bring up")
	dtb     = flag.String("dtb", "", "Flattened device tree describing the controllers, overrides -board")
	mem     = flag.String("mem", config.DefaultConfig.Memory, "Physical memory device")
	metrics = flag.String("metrics", "", "Serve Prometheus metrics on this address and keep running")
	debug   = flag.Bool("debug", false, "Trace register accesses")
	dryRun  = flag.Bool("dry-run", false, "Run against simulated registers with locking PLLs and no link partner")
	version = flag.Bool("version", false, "Print the version and exit")

	log = logger.LogContainer.GetSimpleLogger()
)

func main() {
	flag.Parse()
	if *version {
		v := config.DefaultConfig.Version
		fmt.Printf("pcieinit %s (%s)\n", v.Version, v.GitHash)
		return
	}
	if *debug {
		logger.LogContainer.SetLevel(zapcore.DebugLevel)
	}

	c := *config.DefaultConfig
	c.Board, c.DeviceTree, c.Memory, c.Metrics, c.Debug = *board, *dtb, *mem, *metrics, *debug

	cfgs, err := loadControllers(&c, afero.NewOsFs())
	if err != nil {
		log.Fatalf("Could not load controllers: %v", err)
	}

	var m regs.MemProvider
	if *dryRun {
		m = dryRunMemory(cfgs)
	} else {
		hm, err := regs.OpenHostMemory(c.Memory)
		if err != nil {
			log.Fatalf("Could not map registers: %v", err)
		}
		m = hm
	}

	if c.Metrics != "" {
		addr, err := metric.Serve(c.Metrics)
		if err != nil {
			m.Close()
			log.Fatalf("Could not serve metrics: %v", err)
		}
		log.Infof("Serving metrics on %v", addr)
	}

	err = run(cfgs, m, clock.New(), os.Stdout)
	if err != nil {
		log.Errorf("%v", err)
	}
	m.Close()
	if c.Metrics != "" {
		select {}
	}
	if err != nil {
		os.Exit(1)
	}
}

// loadControllers returns the controllers described by the device tree
// if one is given, else those of the built-in board.
func loadControllers(c *config.Config, fs afero.Fs) ([]config.Controller, error) {
	if c.DeviceTree != "" {
		t, err := config.LoadDeviceTree(fs, c.DeviceTree)
		if err != nil {
			return nil, err
		}
		return config.ControllersFromTree(t)
	}
	b, err := platform.LookupBoard(c.Board)
	if err != nil {
		return nil, err
	}
	if size, err := platform.SRAMSize(b.Variant); err == nil {
		log.Infof("%s: %v with %d MiB SRAM", b.Name, b.Variant, size>>20)
	}
	return b.Controllers, nil
}

// run probes every controller and prints what was found. Controllers
// are independent: one failing does not stop the others.
func run(cfgs []config.Controller, m regs.MemProvider, clk clock.Clock, out io.Writer) error {
	var ctrls []*pcie.Controller
	failed := 0
	for _, cfg := range cfgs {
		ctrl, err := pcie.New(cfg, m, clk)
		if err != nil {
			log.Errorf("pcie%d: %v", cfg.ID, err)
			failed++
			continue
		}
		ctrls = append(ctrls, ctrl)
		err = ctrl.Probe()
		switch {
		case errors.Is(err, pcie.ErrNoSerdes):
		case err != nil:
			log.Errorf("%v", err)
			failed++
		}
	}
	if err := pcie.ShowDevices(out, ctrls); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d controllers failed", failed, len(cfgs))
	}
	return nil
}
