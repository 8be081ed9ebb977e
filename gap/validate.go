package gap

import "github.com/pkg/errors"

// MaxADLength is the maximum length of legacy advertising and scan response data.
const MaxADLength = 31

// Parameter ranges [Vol 2, Part E, 7.8.5, 7.8.10, 7.8.12].
const (
	advIntervalMin  = 0x0020
	advIntervalMax  = 0x4000
	scanIntervalMin = 0x0004
	scanIntervalMax = 0x4000
	connIntervalMin = 0x0006
	connIntervalMax = 0x0C80
	connLatencyMax  = 0x01F3
	timeoutMin      = 0x000A
	timeoutMax      = 0x0C80
)

// ErrInvalidParams is the cause of every validation failure.
var ErrInvalidParams = errors.New("invalid parameters")

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidParams, format, args...)
}

// Validate checks p against the ranges allowed by the controller.
func (p AdvParams) Validate() error {
	switch {
	case p.IntervalMin < advIntervalMin || p.IntervalMin > advIntervalMax:
		return invalid("advertising interval min 0x%04X out of range", p.IntervalMin)
	case p.IntervalMax < advIntervalMin || p.IntervalMax > advIntervalMax:
		return invalid("advertising interval max 0x%04X out of range", p.IntervalMax)
	case p.IntervalMin > p.IntervalMax:
		return invalid("advertising interval min 0x%04X above max 0x%04X", p.IntervalMin, p.IntervalMax)
	case p.Type > AdvDirectIndLow:
		return invalid("advertising type 0x%02X", uint8(p.Type))
	case p.OwnAddrType > AddrRandom:
		return invalid("own address type 0x%02X", p.OwnAddrType)
	case p.ChannelMap == 0 || p.ChannelMap > 0x07:
		return invalid("channel map 0x%02X", p.ChannelMap)
	case p.FilterPolicy > 0x03:
		return invalid("advertising filter policy 0x%02X", p.FilterPolicy)
	case len(p.Data) > MaxADLength:
		return invalid("advertising data is %d bytes", len(p.Data))
	case len(p.ScanResp) > MaxADLength:
		return invalid("scan response data is %d bytes", len(p.ScanResp))
	}
	return nil
}

// Validate checks p against the ranges allowed by the controller.
func (p ScanParams) Validate() error {
	switch {
	case p.Type > ScanActive:
		return invalid("scan type 0x%02X", uint8(p.Type))
	case p.Interval < scanIntervalMin || p.Interval > scanIntervalMax:
		return invalid("scan interval 0x%04X out of range", p.Interval)
	case p.Window < scanIntervalMin || p.Window > scanIntervalMax:
		return invalid("scan window 0x%04X out of range", p.Window)
	case p.Window > p.Interval:
		return invalid("scan window 0x%04X above interval 0x%04X", p.Window, p.Interval)
	case p.OwnAddrType > AddrRandom:
		return invalid("own address type 0x%02X", p.OwnAddrType)
	case p.FilterPolicy > 0x01:
		return invalid("scanning filter policy 0x%02X", p.FilterPolicy)
	}
	return nil
}

// Validate checks p against the ranges allowed by the controller. The
// supervision timeout must exceed (1 + latency) * interval max * 2.
func (p ConnParams) Validate() error {
	switch {
	case p.IntervalMin < connIntervalMin || p.IntervalMin > connIntervalMax:
		return invalid("connection interval min 0x%04X out of range", p.IntervalMin)
	case p.IntervalMax < connIntervalMin || p.IntervalMax > connIntervalMax:
		return invalid("connection interval max 0x%04X out of range", p.IntervalMax)
	case p.IntervalMin > p.IntervalMax:
		return invalid("connection interval min 0x%04X above max 0x%04X", p.IntervalMin, p.IntervalMax)
	case p.Latency > connLatencyMax:
		return invalid("connection latency %d out of range", p.Latency)
	case p.SupervisionTimeout < timeoutMin || p.SupervisionTimeout > timeoutMax:
		return invalid("supervision timeout 0x%04X out of range", p.SupervisionTimeout)
	case p.MinCELength > p.MaxCELength:
		return invalid("CE length min 0x%04X above max 0x%04X", p.MinCELength, p.MaxCELength)
	}
	// timeout*10ms > (1+latency)*max*1.25ms*2, scaled by 4 to stay integral.
	if 4*uint32(p.SupervisionTimeout) <= (1+uint32(p.Latency))*uint32(p.IntervalMax) {
		return invalid("supervision timeout %v too short for interval %v and latency %d",
			SupervisionTimeout(p.SupervisionTimeout), ConnInterval(p.IntervalMax), p.Latency)
	}
	return nil
}
