package coap

import "encoding/binary"

// HelloPayload is the body of the device's POST /h (spec §4.5): 10 fixed
// bytes followed by the device id, 22 bytes in all:
// [productID:2, firmwareVersion:2, 0, 0, platformID:2, deviceIDLen:2, deviceID(12)].
type HelloPayload struct {
	ProductID       uint16
	FirmwareVersion uint16
	PlatformID      uint16
	DeviceID        [12]byte
}

// Encode serializes the Hello payload to its 22-byte wire form: the 10
// fixed bytes spec §4.5 describes, followed by the 12-byte device id whose
// length those fixed bytes declare.
func (h HelloPayload) Encode() []byte {
	buf := make([]byte, 10+12)
	binary.BigEndian.PutUint16(buf[0:2], h.ProductID)
	binary.BigEndian.PutUint16(buf[2:4], h.FirmwareVersion)
	buf[4], buf[5] = 0, 0
	binary.BigEndian.PutUint16(buf[6:8], h.PlatformID)
	binary.BigEndian.PutUint16(buf[8:10], 12)
	copy(buf[10:], h.DeviceID[:])
	return buf
}
