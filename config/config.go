// Package config loads the YAML configuration of applctl and resolves it
// into the GAP parameter sets handed to the controller.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/XC-/applgatt/att"
	"github.com/XC-/applgatt/gap"
)

// Config is the whole configuration file.
type Config struct {
	Device Device `yaml:"device"`
	GAP    GAP    `yaml:"gap"`
	ATT    ATT    `yaml:"att"`
	Log    Log    `yaml:"log"`
}

// Device selects and names the local adapter.
type Device struct {
	HCI        int    `yaml:"hci"`
	Name       string `yaml:"name"`
	Appearance uint16 `yaml:"appearance"`
	// Exclusive binds the HCI user channel, detaching the adapter from
	// the kernel. L2CAP sockets are unavailable while it is held.
	Exclusive bool `yaml:"exclusive"`
}

// GAP names a preset and the fields overriding it.
type GAP struct {
	Preset      string        `yaml:"preset"`
	Advertising AdvOverrides  `yaml:"advertising"`
	Scan        ScanOverrides `yaml:"scan"`
	Connection  ConnOverrides `yaml:"connection"`
}

// AdvOverrides replace fields of the preset's advertising parameters.
type AdvOverrides struct {
	IntervalMin   *time.Duration `yaml:"interval_min"`
	IntervalMax   *time.Duration `yaml:"interval_max"`
	Type          *string        `yaml:"type"`
	ChannelMap    *uint8         `yaml:"channel_map"`
	RandomAddress *bool          `yaml:"random_address"`
}

// ScanOverrides replace fields of the preset's scan parameters.
type ScanOverrides struct {
	Active           *bool          `yaml:"active"`
	Interval         *time.Duration `yaml:"interval"`
	Window           *time.Duration `yaml:"window"`
	FilterDuplicates *bool          `yaml:"filter_duplicates"`
}

// ConnOverrides replace fields of the preset's connection parameters.
type ConnOverrides struct {
	IntervalMin        *time.Duration `yaml:"interval_min"`
	IntervalMax        *time.Duration `yaml:"interval_max"`
	Latency            *uint16        `yaml:"latency"`
	SupervisionTimeout *time.Duration `yaml:"supervision_timeout"`
}

// ATT configures the GATT server.
type ATT struct {
	MTU int `yaml:"mtu"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: Device{HCI: 0, Name: "applgatt"},
		GAP:    GAP{Preset: gap.PresetDefault.String()},
		ATT:    ATT{MTU: att.MaxMTU},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	c, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the fields that do not depend on the preset.
func (c *Config) Validate() error {
	if c.Device.HCI < 0 {
		return errors.Errorf("device.hci %d is negative", c.Device.HCI)
	}
	if c.ATT.MTU < att.DefaultMTU || c.ATT.MTU > att.MaxMTU {
		return errors.Errorf("att.mtu %d outside [%d, %d]", c.ATT.MTU, att.DefaultMTU, att.MaxMTU)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.Errorf("log.format %q is neither text nor json", c.Log.Format)
	}
	if _, err := gap.ParsePreset(c.GAP.Preset); err != nil {
		return errors.Wrap(err, "gap.preset")
	}
	return nil
}

var advTypes = map[string]gap.AdvType{
	"adv_ind":         gap.AdvInd,
	"adv_scan_ind":    gap.AdvScanInd,
	"adv_nonconn_ind": gap.AdvNonconnInd,
}

// Resolve applies the overrides to the selected preset and validates the
// three parameter sets.
func (c *Config) Resolve() (gap.AdvParams, gap.ScanParams, gap.ConnParams, error) {
	var (
		ap gap.AdvParams
		sp gap.ScanParams
		cp gap.ConnParams
	)
	p, err := gap.ParsePreset(c.GAP.Preset)
	if err != nil {
		return ap, sp, cp, err
	}
	// The tables cover every parsed preset.
	ap, _ = gap.Adv(p)
	sp, _ = gap.Scan(p)
	cp, _ = gap.Conn(p)

	o := c.GAP.Advertising
	if o.IntervalMin != nil {
		ap.IntervalMin = gap.AdvUnits(*o.IntervalMin)
	}
	if o.IntervalMax != nil {
		ap.IntervalMax = gap.AdvUnits(*o.IntervalMax)
	}
	if o.Type != nil {
		t, ok := advTypes[strings.ToLower(*o.Type)]
		if !ok {
			return ap, sp, cp, errors.Errorf("gap.advertising.type %q", *o.Type)
		}
		ap.Type = t
	}
	if o.ChannelMap != nil {
		ap.ChannelMap = *o.ChannelMap
	}
	if o.RandomAddress != nil && *o.RandomAddress {
		ap.OwnAddrType = gap.AddrRandom
	}

	s := c.GAP.Scan
	if s.Active != nil {
		sp.Type = gap.ScanPassive
		if *s.Active {
			sp.Type = gap.ScanActive
		}
	}
	if s.Interval != nil {
		sp.Interval = gap.AdvUnits(*s.Interval)
	}
	if s.Window != nil {
		sp.Window = gap.AdvUnits(*s.Window)
	}
	if s.FilterDuplicates != nil {
		sp.FilterDuplicates = *s.FilterDuplicates
	}

	n := c.GAP.Connection
	if n.IntervalMin != nil {
		cp.IntervalMin = gap.ConnUnits(*n.IntervalMin)
	}
	if n.IntervalMax != nil {
		cp.IntervalMax = gap.ConnUnits(*n.IntervalMax)
	}
	if n.Latency != nil {
		cp.Latency = *n.Latency
	}
	if n.SupervisionTimeout != nil {
		cp.SupervisionTimeout = gap.TimeoutUnits(*n.SupervisionTimeout)
	}

	if err := ap.Validate(); err != nil {
		return ap, sp, cp, errors.Wrap(err, "gap.advertising")
	}
	if err := sp.Validate(); err != nil {
		return ap, sp, cp, errors.Wrap(err, "gap.scan")
	}
	if err := cp.Validate(); err != nil {
		return ap, sp, cp, errors.Wrap(err, "gap.connection")
	}
	return ap, sp, cp, nil
}

// NewLogger builds the logger described by the log section.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log.level")
	}
	l := logrus.New()
	l.SetLevel(lvl)
	if strings.EqualFold(c.Log.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
