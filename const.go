package gatt

// This file includes constants from the BLE spec.

var (
	attrGAPUUID  = UUID16(0x1800)
	attrGATTUUID = UUID16(0x1801)

	attrPrimaryServiceUUID   = UUID16(0x2800)
	attrSecondaryServiceUUID = UUID16(0x2801)
	attrIncludeUUID          = UUID16(0x2802)
	attrCharacteristicUUID   = UUID16(0x2803)

	attrCharacteristicUserDescriptionUUID = UUID16(0x2901)
	attrClientCharacteristicConfigUUID    = UUID16(0x2902)
	attrServerCharacteristicConfigUUID    = UUID16(0x2903)

	attrDeviceNameUUID        = UUID16(0x2A00)
	attrAppearanceUUID        = UUID16(0x2A01)
	attrPreferredParamsUUID   = UUID16(0x2A04)
	attrServiceChangedUUID    = UUID16(0x2A05)
)

// https://developer.bluetooth.org/gatt/characteristics/Pages/CharacteristicViewer.aspx?u=org.bluetooth.characteristic.gap.appearance.xml
const gapAppearanceGenericComputer = 0x0080

// Client Characteristic Configuration bits.
const (
	cccNotify   = 0x0001
	cccIndicate = 0x0002
)
