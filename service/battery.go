// Package service provides ready-made GATT services.
package service

import (
	"time"

	gatt "github.com/XC-/applgatt"
)

// UUIDs of the services and characteristics in this package.
var (
	BatteryUUID      = gatt.UUID16(0x180F)
	BatteryLevelUUID = gatt.UUID16(0x2A19)

	DeviceInformationUUID = gatt.UUID16(0x180A)
	ManufacturerNameUUID  = gatt.UUID16(0x2A29)
	ModelNumberUUID       = gatt.UUID16(0x2A24)
	FirmwareRevisionUUID  = gatt.UUID16(0x2A26)

	userDescriptionUUID    = gatt.UUID16(0x2901)
	presentationFormatUUID = gatt.UUID16(0x2904)
)

// pollInterval is how often notify handlers look for new values and
// for unsubscription.
var pollInterval = time.Second

// Battery returns a Battery Service whose level, in percent, is read from
// level. Subscribers are notified when the level changes.
func Battery(level func() byte) *gatt.Service {
	s := gatt.NewService(BatteryUUID)
	c := s.AddCharacteristic(BatteryLevelUUID)
	c.HandleReadFunc(func(resp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
		resp.Write([]byte{level()})
	})
	c.HandleNotifyFunc(func(r gatt.Request, n gatt.Notifier) {
		last := level()
		if _, err := n.Write([]byte{last}); err != nil {
			return
		}
		for !n.Done() {
			time.Sleep(pollInterval)
			if lv := level(); lv != last {
				if _, err := n.Write([]byte{lv}); err != nil {
					return
				}
				last = lv
			}
		}
	})

	c.AddDescriptor(userDescriptionUUID).SetValue([]byte("Battery level between 0 and 100 percent"))

	// uint8, exponent 0, unit percentage, namespace Bluetooth SIG
	c.AddDescriptor(presentationFormatUUID).SetValue([]byte{0x04, 0x00, 0xAD, 0x27, 0x01, 0x00, 0x00})

	return s
}

// DeviceInformation returns a Device Information Service. Empty strings
// are left out.
func DeviceInformation(manufacturer, model, firmware string) *gatt.Service {
	s := gatt.NewService(DeviceInformationUUID)
	for _, v := range []struct {
		u gatt.UUID
		s string
	}{
		{ManufacturerNameUUID, manufacturer},
		{ModelNumberUUID, model},
		{FirmwareRevisionUUID, firmware},
	} {
		if v.s != "" {
			s.AddCharacteristic(v.u).SetValue([]byte(v.s))
		}
	}
	return s
}
