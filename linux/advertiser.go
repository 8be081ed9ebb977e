package linux

import (
	"sync"

	"github.com/pkg/errors"

	gatt "github.com/XC-/applgatt"
	"github.com/XC-/applgatt/gap"
)

// An Advertiser applies a set of advertising parameters and data to the
// controller and tracks whether advertising is enabled.
type Advertiser struct {
	h *HCI

	mu               sync.Mutex
	params           gap.AdvParams
	name             string
	manufacturerData []byte
	serving          bool
}

// NewAdvertiser returns an Advertiser for h using the parameters of p.
// Nothing is sent to the controller until Start.
func NewAdvertiser(h *HCI, p gap.AdvParams, opts ...AdvertiserOption) *Advertiser {
	a := &Advertiser{h: h, params: p}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Serving returns the status of advertising.
func (a *Advertiser) Serving() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serving
}

// Params returns the advertising parameters in use.
func (a *Advertiser) Params() gap.AdvParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// Start applies the parameters and data and enables advertising.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.apply(); err != nil {
		return err
	}
	if err := a.h.Advertise(); err != nil {
		return err
	}
	a.serving = true
	return nil
}

// Stop disables advertising.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.h.StopAdvertising(); err != nil {
		return err
	}
	a.serving = false
	return nil
}

// Configure replaces the advertising parameters. While advertising, the
// controller is stopped, updated and restarted.
func (a *Advertiser) Configure(p gap.AdvParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := a.Option(Params(p))
	return err
}

// advertisingData returns the advertising data with the manufacturer
// data appended.
func (a *Advertiser) advertisingData() ([]byte, error) {
	b := append(append([]byte(nil), a.params.Data...), a.manufacturerData...)
	if len(b) > gatt.MaxEIRPacketLength {
		return nil, errors.Wrapf(gatt.ErrEIRPacketTooLong, "advertising data is %d bytes", len(b))
	}
	return b, nil
}

// scanResponse returns the scan response data. Without explicit data it
// carries the device name, if any.
func (a *Advertiser) scanResponse() []byte {
	if a.params.ScanResp != nil || a.name == "" {
		return a.params.ScanResp
	}
	return gatt.NameScanResponsePacket(a.name)
}

func (a *Advertiser) apply() error {
	data, err := a.advertisingData()
	if err != nil {
		return err
	}
	if err := a.h.SetAdvertisingParameters(a.params); err != nil {
		return err
	}
	if err := a.h.SetAdvertisingData(data); err != nil {
		return err
	}
	if sr := a.scanResponse(); len(sr) > 0 {
		if err := a.h.SetScanResponseData(sr); err != nil {
			return err
		}
	}
	return nil
}

// AdvertiserOption is an advertiser option.
// It returns an option to restore the last arg's previous value.
type AdvertiserOption func(*Advertiser) AdvertiserOption

// Option sets the options specified and, while advertising, pushes the
// result to the controller.
func (a *Advertiser) Option(opts ...AdvertiserOption) (prev AdvertiserOption, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, opt := range opts {
		prev = opt(a)
	}
	if !a.serving {
		return prev, nil
	}
	if err := a.h.StopAdvertising(); err != nil {
		return prev, err
	}
	if err := a.apply(); err != nil {
		a.serving = false
		return prev, err
	}
	return prev, a.h.Advertise()
}

// Params replaces every advertising parameter, data included.
func Params(p gap.AdvParams) AdvertiserOption {
	return func(a *Advertiser) AdvertiserOption {
		prev := a.params
		a.params = p
		return Params(prev)
	}
}

// AdvertisingData is an optional custom advertising packet. It must be
// no longer than gatt.MaxEIRPacketLength, manufacturer data included.
func AdvertisingData(b []byte) AdvertiserOption {
	return func(a *Advertiser) AdvertiserOption {
		prev := a.params.Data
		a.params.Data = b
		return AdvertisingData(prev)
	}
}

// ScanResponseData is an optional custom scan response packet.
// If nil, the scan response carries the advertised name, truncated if
// necessary.
func ScanResponseData(b []byte) AdvertiserOption {
	return func(a *Advertiser) AdvertiserOption {
		prev := a.params.ScanResp
		a.params.ScanResp = b
		return ScanResponseData(prev)
	}
}

// AdvertisedName sets the name used for the default scan response.
func AdvertisedName(n string) AdvertiserOption {
	return func(a *Advertiser) AdvertiserOption {
		prev := a.name
		a.name = n
		return AdvertisedName(prev)
	}
}

// ManufacturerData is optional data appended to the advertising data.
func ManufacturerData(b []byte) AdvertiserOption {
	return func(a *Advertiser) AdvertiserOption {
		prev := a.manufacturerData
		a.manufacturerData = b
		return ManufacturerData(prev)
	}
}
