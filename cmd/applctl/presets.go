package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli"

	"github.com/XC-/applgatt/gap"
)

func presets(c *cli.Context) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tADVERTISING\tSCAN\tCONNECTION")
	for _, p := range gap.Presets() {
		ap, _ := gap.Adv(p)
		sp, _ := gap.Scan(p)
		cp, _ := gap.Conn(p)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p, advString(ap), scanString(sp), connString(cp))
	}
	return w.Flush()
}

func check(c *cli.Context) error {
	ap, sp, cp, err := cfg.Resolve()
	if err != nil {
		return err
	}
	fmt.Printf("device       hci%d %q\n", cfg.Device.HCI, cfg.Device.Name)
	fmt.Printf("preset       %s\n", cfg.GAP.Preset)
	fmt.Printf("advertising  %s\n", advString(ap))
	fmt.Printf("scan         %s\n", scanString(sp))
	fmt.Printf("connection   %s\n", connString(cp))
	fmt.Printf("att mtu      %d\n", cfg.ATT.MTU)
	return nil
}

func advString(p gap.AdvParams) string {
	return fmt.Sprintf("%s %v-%v", p.Type, gap.AdvInterval(p.IntervalMin), gap.AdvInterval(p.IntervalMax))
}

func scanString(p gap.ScanParams) string {
	s := fmt.Sprintf("%s %v/%v", p.Type, gap.AdvInterval(p.Window), gap.AdvInterval(p.Interval))
	if !p.FilterDuplicates {
		s += " dup"
	}
	return s
}

func connString(p gap.ConnParams) string {
	return fmt.Sprintf("%v-%v latency %d timeout %v",
		gap.ConnInterval(p.IntervalMin), gap.ConnInterval(p.IntervalMax), p.Latency, gap.SupervisionTimeout(p.SupervisionTimeout))
}
