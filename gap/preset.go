package gap

import (
	"strings"

	"github.com/pkg/errors"
)

// A Preset indexes one row of the advertising, scanning and connection
// parameter tables.
type Preset int

// Presets.
const (
	PresetDefault  Preset = iota // general purpose, spec default advertising interval
	PresetFast                   // fast discovery and low latency links
	PresetLowPower               // long intervals, slave latency
	PresetBeacon                 // non-connectable broadcaster

	numPresets
)

// ErrUnknownPreset is returned for a preset outside the tables.
var ErrUnknownPreset = errors.New("unknown preset")

var presetName = [numPresets]string{
	PresetDefault:  "default",
	PresetFast:     "fast",
	PresetLowPower: "low-power",
	PresetBeacon:   "beacon",
}

func (p Preset) String() string {
	if !p.valid() {
		return "unknown"
	}
	return presetName[p]
}

func (p Preset) valid() bool { return p >= 0 && p < numPresets }

// ParsePreset returns the preset named s. Matching is case-insensitive.
func ParsePreset(s string) (Preset, error) {
	for i, n := range presetName {
		if strings.EqualFold(s, n) {
			return Preset(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownPreset, "%q", s)
}

// Presets lists every preset in table order.
func Presets() []Preset {
	pp := make([]Preset, numPresets)
	for i := range pp {
		pp[i] = Preset(i)
	}
	return pp
}

// Advertising data: a single Flags AD structure.
var (
	adFlagsGeneral = []byte{0x02, 0x01, 0x06} // LE General Discoverable, BR/EDR not supported
	adFlagsBeacon  = []byte{0x02, 0x01, 0x04} // BR/EDR not supported
)

var advTable = [numPresets]AdvParams{
	PresetDefault: {
		IntervalMin: 0x0800, // 1.28 s
		IntervalMax: 0x0800,
		Type:        AdvInd,
		ChannelMap:  0x07,
		Data:        adFlagsGeneral,
	},
	PresetFast: {
		IntervalMin: 0x0020, // 20 ms
		IntervalMax: 0x0030, // 30 ms
		Type:        AdvInd,
		ChannelMap:  0x07,
		Data:        adFlagsGeneral,
	},
	PresetLowPower: {
		IntervalMin: 0x0640, // 1 s
		IntervalMax: 0x0780, // 1.2 s
		Type:        AdvInd,
		ChannelMap:  0x07,
		Data:        adFlagsGeneral,
	},
	PresetBeacon: {
		IntervalMin: 0x00A0, // 100 ms
		IntervalMax: 0x00A0,
		Type:        AdvNonconnInd,
		ChannelMap:  0x07,
		Data:        adFlagsBeacon,
	},
}

var scanTable = [numPresets]ScanParams{
	PresetDefault: {
		Type:             ScanActive,
		Interval:         0x0010, // 10 ms
		Window:           0x0010,
		FilterDuplicates: true,
	},
	PresetFast: {
		Type:             ScanActive,
		Interval:         0x0060, // 60 ms
		Window:           0x0030, // 30 ms
		FilterDuplicates: true,
	},
	PresetLowPower: {
		Type:             ScanPassive,
		Interval:         0x0800, // 1.28 s
		Window:           0x0012, // 11.25 ms
		FilterDuplicates: true,
	},
	PresetBeacon: {
		Type:             ScanPassive,
		Interval:         0x0010,
		Window:           0x0010,
		FilterDuplicates: false,
	},
}

var connTable = [numPresets]ConnParams{
	PresetDefault: {
		IntervalMin:        0x0018, // 30 ms
		IntervalMax:        0x0028, // 50 ms
		Latency:            0,
		SupervisionTimeout: 0x01F4, // 5 s
	},
	PresetFast: {
		IntervalMin:        0x0006, // 7.5 ms
		IntervalMax:        0x000C, // 15 ms
		Latency:            0,
		SupervisionTimeout: 0x0064, // 1 s
	},
	PresetLowPower: {
		IntervalMin:        0x0050, // 100 ms
		IntervalMax:        0x00A0, // 200 ms
		Latency:            4,
		SupervisionTimeout: 0x0258, // 6 s
	},
	PresetBeacon: {
		IntervalMin:        0x0018,
		IntervalMax:        0x0028,
		Latency:            0,
		SupervisionTimeout: 0x01F4,
	},
}

// Adv returns a copy of the advertising parameters of preset p.
func Adv(p Preset) (AdvParams, error) {
	if !p.valid() {
		return AdvParams{}, ErrUnknownPreset
	}
	return advTable[p].clone(), nil
}

// Scan returns the scanning parameters of preset p.
func Scan(p Preset) (ScanParams, error) {
	if !p.valid() {
		return ScanParams{}, ErrUnknownPreset
	}
	return scanTable[p], nil
}

// Conn returns the connection parameters of preset p.
func Conn(p Preset) (ConnParams, error) {
	if !p.valid() {
		return ConnParams{}, ErrUnknownPreset
	}
	return connTable[p], nil
}
