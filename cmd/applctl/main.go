// Command applctl drives a Bluetooth LE adapter with the applgatt
// packages: it advertises, scans, serves GATT and explores peripherals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/XC-/applgatt/config"
)

const version = "0.3.0"

var (
	cfg = config.Default()
	log = logrus.StandardLogger()
)

var (
	flgDuration = cli.DurationFlag{Name: "duration, d", Value: 10 * time.Second, Usage: "how long to run; 0 runs until interrupted"}
	flgAddr     = cli.StringFlag{Name: "addr, a", Usage: "address of the remote device"}
	flgRandom   = cli.BoolFlag{Name: "random", Usage: "the remote device uses a random address"}
	flgDup      = cli.BoolFlag{Name: "dup", Usage: "report duplicate advertisements"}
)

func main() {
	app := cli.NewApp()

	app.Name = "applctl"
	app.Usage = "A Bluetooth LE tool for advertising, scanning and GATT"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML configuration file"},
		cli.IntFlag{Name: "hci", Value: -1, Usage: "HCI device index (overrides device.hci)"},
		cli.StringFlag{Name: "preset, p", Usage: "GAP parameter preset (overrides gap.preset)"},
		cli.StringFlag{Name: "log-level", Usage: "log level (overrides log.level)"},
	}
	app.Before = setup

	app.Commands = []cli.Command{
		{
			Name:   "presets",
			Usage:  "Print the GAP parameter presets",
			Action: presets,
		},
		{
			Name:   "check",
			Usage:  "Validate the configuration and print the resolved parameters",
			Action: check,
		},
		{
			Name:    "advertise",
			Aliases: []string{"adv"},
			Usage:   "Advertise with the configured preset",
			Action:  advertise,
			Flags:   []cli.Flag{flgDuration},
		},
		{
			Name:    "scan",
			Aliases: []string{"s"},
			Usage:   "Scan and print advertisements",
			Action:  scan,
			Flags:   []cli.Flag{flgDuration, flgDup},
		},
		{
			Name:    "serve",
			Aliases: []string{"sv"},
			Usage:   "Serve the battery, device information and echo services",
			Action:  serve,
			Flags:   []cli.Flag{cli.DurationFlag{Name: "duration, d", Usage: "how long to serve; 0 serves until interrupted"}},
		},
		{
			Name:    "discover",
			Aliases: []string{"e"},
			Usage:   "Connect to a peripheral and print its attributes",
			Action:  discover,
			Flags:   []cli.Flag{flgAddr, flgRandom, cli.DurationFlag{Name: "timeout, t", Value: 30 * time.Second, Usage: "timeout of the exploration"}},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "applctl: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies the global flags and builds the
// logger.
func setup(c *cli.Context) error {
	if path := c.GlobalString("config"); path != "" {
		lc, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = lc
	}
	if n := c.GlobalInt("hci"); n >= 0 {
		cfg.Device.HCI = n
	}
	if p := c.GlobalString("preset"); p != "" {
		cfg.GAP.Preset = p
	}
	if l := c.GlobalString("log-level"); l != "" {
		cfg.Log.Level = l
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	l, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	log = l
	return nil
}

// runContext is canceled on SIGINT or SIGTERM, and after d unless d is 0.
func runContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		tcancel()
		cancel()
	}
}

// chkErr hides the errors of a run that ended as requested.
func chkErr(err error) error {
	switch errors.Cause(err) {
	case context.DeadlineExceeded:
		return nil
	case context.Canceled:
		fmt.Printf("\n(Canceled)\n")
		return nil
	}
	return err
}
