// Package gatt implements the Attribute Protocol and the Generic Attribute
// Profile of Bluetooth Low Energy, for both roles.
//
// A Server holds an attribute database built from Services, Characteristics
// and Descriptors. Once initialized it serves any number of Bearers, each a
// message-preserving transport carrying one ATT PDU per Read or Write:
//
//	s := gatt.NewServer(gatt.Name("gopher"))
//	svc := gatt.NewService(gatt.UUID16(0x180F))
//	svc.AddCharacteristic(gatt.UUID16(0x2A19)).HandleReadFunc(
//		func(rsp gatt.ReadResponseWriter, req *gatt.ReadRequest) {
//			rsp.Write([]byte{100})
//		})
//	s.AddService(svc)
//	s.Serve(listener)
//
// The Generic Access and Generic Attribute services are added by the
// server. Notifications and indications are started and stopped by the
// central through the Client Characteristic Configuration descriptor,
// which the server creates for every characteristic with a NotifyHandler.
//
// A Client drives the other end of a Bearer: it exchanges the MTU,
// discovers services, characteristics and descriptors, reads and writes
// values of any length and subscribes to notifications.
//
// Advertisement parses advertising and scan response data, and AdvPacket
// builds it.
//
// The linux package provides the Bearers and the HCI controller access
// that carry all of this over a real adapter.
package gatt
