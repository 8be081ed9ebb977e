package gap

import "time"

// Time units of the HCI parameters.
const (
	AdvUnit     = 625 * time.Microsecond  // advertising and scan intervals, CE length
	ConnUnit    = 1250 * time.Microsecond // connection intervals
	TimeoutUnit = 10 * time.Millisecond   // supervision timeout
)

// AdvInterval converts an advertising or scan interval to a duration.
func AdvInterval(n uint16) time.Duration { return time.Duration(n) * AdvUnit }

// ConnInterval converts a connection interval to a duration.
func ConnInterval(n uint16) time.Duration { return time.Duration(n) * ConnUnit }

// SupervisionTimeout converts a supervision timeout to a duration.
func SupervisionTimeout(n uint16) time.Duration { return time.Duration(n) * TimeoutUnit }

// AdvUnits converts d to 0.625 ms units, rounding down.
func AdvUnits(d time.Duration) uint16 { return units(d, AdvUnit) }

// ConnUnits converts d to 1.25 ms units, rounding down.
func ConnUnits(d time.Duration) uint16 { return units(d, ConnUnit) }

// TimeoutUnits converts d to 10 ms units, rounding down.
func TimeoutUnits(d time.Duration) uint16 { return units(d, TimeoutUnit) }

func units(d, unit time.Duration) uint16 {
	n := d / unit
	if n > 0xFFFF {
		return 0xFFFF
	}
	if n < 0 {
		return 0
	}
	return uint16(n)
}
