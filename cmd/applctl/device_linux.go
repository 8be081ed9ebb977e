//go:build linux
// +build linux

package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	gatt "github.com/XC-/applgatt"
	"github.com/XC-/applgatt/gap"
	"github.com/XC-/applgatt/linux"
	"github.com/XC-/applgatt/service"
)

// openHCI opens and initializes the configured adapter.
func openHCI(exclusive bool) (*linux.HCI, error) {
	h, err := linux.OpenHCI(cfg.Device.HCI, exclusive, linux.Logger(log))
	if err != nil {
		if dd, lerr := linux.Devices(); lerr == nil {
			for _, d := range dd {
				log.WithFields(logrus.Fields{"addr": d.Addr(), "up": d.Up()}).Infof("found %s", d.Name())
			}
		}
		return nil, errors.Wrapf(err, "can't open hci%d", cfg.Device.HCI)
	}
	if err := h.Init(); err != nil {
		h.Close()
		return nil, errors.Wrap(err, "can't initialize controller")
	}
	return h, nil
}

func advertise(c *cli.Context) error {
	ap, _, _, err := cfg.Resolve()
	if err != nil {
		return err
	}
	h, err := openHCI(cfg.Device.Exclusive)
	if err != nil {
		return err
	}
	defer h.Close()

	a := linux.NewAdvertiser(h, ap, linux.AdvertisedName(cfg.Device.Name))
	if err := a.Start(); err != nil {
		return errors.Wrap(err, "can't advertise")
	}
	fmt.Printf("Advertising %q (%s) for %s...\n", cfg.Device.Name, advString(ap), c.Duration("duration"))

	ctx, cancel := runContext(c.Duration("duration"))
	defer cancel()
	<-ctx.Done()
	if err := a.Stop(); err != nil {
		log.WithError(err).Warn("stop advertising")
	}
	return chkErr(ctx.Err())
}

func scan(c *cli.Context) error {
	_, sp, _, err := cfg.Resolve()
	if err != nil {
		return err
	}
	if c.Bool("dup") {
		sp.FilterDuplicates = false
	}
	h, err := openHCI(cfg.Device.Exclusive)
	if err != nil {
		return err
	}
	defer h.Close()

	h.HandleAdvertisement(printReport)
	if err := h.SetScanParameters(sp); err != nil {
		return errors.Wrap(err, "can't set scan parameters")
	}
	if err := h.Scan(); err != nil {
		return errors.Wrap(err, "can't scan")
	}
	fmt.Printf("Scanning (%s) for %s...\n", scanString(sp), c.Duration("duration"))

	ctx, cancel := runContext(c.Duration("duration"))
	defer cancel()
	select {
	case <-ctx.Done():
	case <-h.Done():
		return h.Err()
	}
	if err := h.StopScan(); err != nil {
		log.WithError(err).Warn("stop scanning")
	}
	return chkErr(ctx.Err())
}

func printReport(r *linux.Report) {
	a, err := r.Advertisement()
	if err != nil {
		fmt.Printf("[%s] RSSI: %3d: malformed advertisement: %v\n", r.Address, r.RSSI, err)
		return
	}
	comment := ""
	if len(a.LocalName) > 0 {
		comment += fmt.Sprintf(" Name: %s", a.LocalName)
	}
	if len(a.Services) > 0 {
		comment += fmt.Sprintf(" Svcs: %v", a.Services)
	}
	if len(a.ManufacturerData) > 0 {
		comment += fmt.Sprintf(" MD: %X", a.ManufacturerData)
	}
	if r.Connectable() {
		comment += " connectable"
	}
	fmt.Printf("[%s] RSSI: %3d:%s\n", r.Address, r.RSSI, comment)
}

// batteryLevel drains one percent a minute from 100 and starts over.
func batteryLevel(start time.Time) func() byte {
	return func() byte {
		return byte(100 - int(time.Since(start)/time.Minute)%100)
	}
}

func serve(c *cli.Context) error {
	ap, _, cp, err := cfg.Resolve()
	if err != nil {
		return err
	}
	if !ap.Type.Connectable() {
		return errors.Errorf("preset %s does not accept connections", cfg.GAP.Preset)
	}
	// ATT runs over kernel L2CAP sockets, which need the adapter shared.
	h, err := openHCI(false)
	if err != nil {
		return err
	}
	defer h.Close()

	batt := service.Battery(batteryLevel(time.Now()))
	echo := service.Echo(log)
	srv := gatt.NewServer(
		gatt.Name(cfg.Device.Name),
		gatt.Appearance(cfg.Device.Appearance),
		gatt.ConnParams(cp),
		gatt.MaxMTU(cfg.ATT.MTU),
		gatt.Logger(log),
		gatt.Connect(func(c gatt.Conn) { fmt.Printf("Connect: %s\n", c.RemoteAddr()) }),
		gatt.Disconnect(func(c gatt.Conn) { fmt.Printf("Disconnect: %s\n", c.RemoteAddr()) }),
	)
	for _, s := range []*gatt.Service{
		service.DeviceInformation("XC", "applctl", version),
		batt,
		echo,
	} {
		if err := srv.AddService(s); err != nil {
			return errors.Wrap(err, "can't add service")
		}
	}
	if err := srv.Init(); err != nil {
		return err
	}

	l, err := linux.ListenATT(ap.OwnAddrType)
	if err != nil {
		return err
	}

	data, _ := gatt.ServiceAdvertisingPacket([]gatt.UUID{batt.UUID(), echo.UUID()})
	a := linux.NewAdvertiser(h, ap, linux.AdvertisingData(data), linux.AdvertisedName(cfg.Device.Name))
	// The controller stops advertising when a central connects.
	h.HandleDisconnection(func(handle uint16, reason uint8) {
		if err := a.Start(); err != nil {
			log.WithError(err).Warn("restart advertising")
		}
	})
	if err := a.Start(); err != nil {
		l.Close()
		return errors.Wrap(err, "can't advertise")
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()
	fmt.Printf("Serving GATT as %q (%s)...\n", cfg.Device.Name, advString(ap))

	ctx, cancel := runContext(c.Duration("duration"))
	defer cancel()
	select {
	case <-ctx.Done():
		err = chkErr(ctx.Err())
	case err = <-errc:
	}
	if serr := a.Stop(); serr != nil {
		log.WithError(serr).Warn("stop advertising")
	}
	srv.Close()
	l.Close()
	return err
}

func discover(c *cli.Context) error {
	addr, err := net.ParseMAC(c.String("addr"))
	if err != nil || len(addr) != 6 {
		return errors.Errorf("invalid address %q", c.String("addr"))
	}
	ctx, cancel := runContext(c.Duration("timeout"))
	defer cancel()

	addrType := uint8(gap.AddrPublic)
	if c.Bool("random") {
		addrType = gap.AddrRandom
	}
	fmt.Printf("Connecting to %s...\n", addr)
	b, err := linux.DialATT(addr, addrType)
	if err != nil {
		return err
	}
	cln := gatt.NewClient(b, gatt.ClientLogger(log))
	defer cln.Close()

	mtu, err := cln.ExchangeMTU(ctx, cfg.ATT.MTU)
	if err != nil {
		return chkErr(errors.Wrap(err, "can't exchange mtu"))
	}
	fmt.Printf("ATT MTU %d\n", mtu)
	return chkErr(explore(ctx, cln))
}

func explore(ctx context.Context, cln *gatt.Client) error {
	ss, err := cln.DiscoverServices(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't discover services")
	}
	for _, s := range ss {
		fmt.Printf("Service: %s %s, Handle (0x%02X)\n", s.UUID(), name(s.UUID()), s.Handle())

		cs, err := cln.DiscoverCharacteristics(ctx, s, nil)
		if err != nil {
			return errors.Wrap(err, "can't discover characteristics")
		}
		for _, ch := range cs {
			fmt.Printf("  Characteristic: %s %s, Property: 0x%02X (%s), Handle(0x%02X), VHandle(0x%02X)\n",
				ch.UUID(), name(ch.UUID()), uint8(ch.Properties()), ch.Properties(), ch.Handle(), ch.ValueHandle())
			if ch.Properties()&gatt.CharRead != 0 {
				b, err := cln.ReadLong(ctx, ch.ValueHandle())
				if err != nil {
					fmt.Printf("    Failed to read characteristic: %s\n", err)
				} else {
					fmt.Printf("    Value         %x | %q\n", b, b)
				}
			}

			ds, err := cln.DiscoverDescriptors(ctx, ch, nil)
			if err != nil {
				return errors.Wrap(err, "can't discover descriptors")
			}
			for _, d := range ds {
				fmt.Printf("    Descriptor: %s %s, Handle(0x%02x)\n", d.UUID(), name(d.UUID()), d.Handle())
				b, err := cln.ReadReq(ctx, d.Handle())
				if err != nil {
					fmt.Printf("      Failed to read descriptor: %s\n", err)
					continue
				}
				fmt.Printf("      Value         %x | %q\n", b, b)
			}
		}
		fmt.Println()
	}
	return nil
}

func name(u gatt.UUID) string {
	if n := u.Name(); n != "" {
		return "(" + strings.TrimSpace(n) + ")"
	}
	return ""
}
