package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"kiwios/app"
	"kiwios/config"
	"kiwios/hal"
	"kiwios/internal/buildinfo"
)

func main() {
	var (
		configPath string
		headless   hal.HeadlessConfig
	)
	flag.StringVar(&configPath, "config", "", "Machine layout YAML file.")
	headlessOn := flag.Bool("headless", false, "Run without a window.")
	flag.IntVar(&headless.Hz, "hz", 60, "Step rate in headless mode.")
	flag.Uint64Var(&headless.Ticks, "ticks", 0, "Stop after N steps in headless mode (0 = run forever).")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sys, step, err := app.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sys.Devices.Logger().WriteLineString("kiwios " + buildinfo.Short())

	if *headlessOn {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, sys.Devices, step, headless); err != nil {
			if err == context.Canceled {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := hal.StartAudio(sys.Devices); err != nil && err != hal.ErrNotImplemented {
		fmt.Fprintln(os.Stderr, "audio:", err)
	}
	if err := hal.RunWindow("kiwios", sys.Devices, step); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
