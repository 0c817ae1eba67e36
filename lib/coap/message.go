// Package coap implements just enough of RFC 7252 to drive the handshake's
// Hello/Describe/Function/Variable/Event/Ping exchange described in spec
// §4.5. It is not a general CoAP library: only the option (Uri-Path) and
// message types this protocol actually uses are supported.
package coap

import (
	"encoding/binary"

	"github.com/samber/oops"
)

// Type is the CoAP message type (RFC 7252 §3).
type Type uint8

const (
	TypeConfirmable    Type = 0
	TypeNonConfirmable Type = 1
	TypeAcknowledgement Type = 2
	TypeReset           Type = 3
)

// Code is a CoAP method/response code, represented as (class<<5)|detail —
// e.g. 2.05 Content is Code{Class: 2, Detail: 5}.
type Code struct {
	Class  uint8
	Detail uint8
}

func (c Code) byte() byte { return c.Class<<5 | (c.Detail & 0x1F) }

func codeFromByte(b byte) Code {
	return Code{Class: b >> 5, Detail: b & 0x1F}
}

// Request/response codes used by this protocol.
var (
	CodeEmpty        = Code{0, 0} // 0.00 — used bare for Ping and for ACKs
	CodeGET          = Code{0, 1}
	CodePOST         = Code{0, 2}
	CodeContent      = Code{2, 5} // 2.05
	CodeChanged      = Code{2, 4} // 2.04
)

// optionURIPath is the CoAP option number for Uri-Path (RFC 7252 §5.10.1),
// the only option this protocol needs.
const optionURIPath = 11

// Packet is a parsed CoAP message.
type Packet struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	UriPath   []string // ordered Uri-Path segments, e.g. ["e", "myEvent", "0"]
	Payload   []byte
}

// IsAck reports whether this is an empty ACK (spec §4.5 "ACK correlation":
// code 0.00 with the ACK flag set).
func (p *Packet) IsAck() bool {
	return p.Type == TypeAcknowledgement && p.Code == CodeEmpty
}

// Encode serializes a Packet to its CoAP wire form.
func Encode(p *Packet) ([]byte, error) {
	if len(p.Token) > 8 {
		return nil, oops.Errorf("coap: token length %d exceeds 8", len(p.Token))
	}

	buf := make([]byte, 0, 32+len(p.Payload))
	firstByte := byte(1)<<6 | byte(p.Type)<<4 | byte(len(p.Token)&0x0F)
	buf = append(buf, firstByte)
	buf = append(buf, p.Code.byte())
	mid := make([]byte, 2)
	binary.BigEndian.PutUint16(mid, p.MessageID)
	buf = append(buf, mid...)
	buf = append(buf, p.Token...)

	lastNumber := 0
	for _, seg := range p.UriPath {
		delta := optionURIPath - lastNumber
		lastNumber = optionURIPath
		segBytes := []byte(seg)
		buf = append(buf, encodeOptionHeader(delta, len(segBytes))...)
		buf = append(buf, segBytes...)
	}

	if len(p.Payload) > 0 {
		buf = append(buf, 0xFF)
		buf = append(buf, p.Payload...)
	}
	return buf, nil
}

// encodeOptionHeader writes the CoAP option delta/length nibble(s),
// extending to an extra byte for values in [13,269) and to two extra bytes
// for values of 269 and above, as RFC 7252 §3.1 requires. This protocol's
// only option (Uri-Path) does not normally reach the 2-byte form.
func encodeOptionHeader(delta, length int) []byte {
	var out []byte
	deltaNibble, deltaExt := splitOptionValue(delta)
	lengthNibble, lengthExt := splitOptionValue(length)
	out = append(out, byte(deltaNibble<<4|lengthNibble))
	if deltaExt != nil {
		out = append(out, deltaExt...)
	}
	if lengthExt != nil {
		out = append(out, lengthExt...)
	}
	return out
}

func splitOptionValue(v int) (nibble int, ext []byte) {
	switch {
	case v < 13:
		return v, nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		// Not reached by this protocol's single short option.
		return 14, []byte{byte((v - 269) >> 8), byte(v - 269)}
	}
}

// Decode parses a CoAP wire message.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < 4 {
		return nil, oops.Errorf("coap: packet too short (%d bytes)", len(raw))
	}
	version := raw[0] >> 6
	if version != 1 {
		return nil, oops.Errorf("coap: unsupported version %d", version)
	}
	typ := Type((raw[0] >> 4) & 0x03)
	tokenLen := int(raw[0] & 0x0F)
	code := codeFromByte(raw[1])
	messageID := binary.BigEndian.Uint16(raw[2:4])

	offset := 4
	if len(raw) < offset+tokenLen {
		return nil, oops.Errorf("coap: truncated token")
	}
	token := append([]byte{}, raw[offset:offset+tokenLen]...)
	offset += tokenLen

	var uriPath []string
	lastNumber := 0
	for offset < len(raw) {
		if raw[offset] == 0xFF {
			offset++
			break
		}
		deltaNibble := int(raw[offset] >> 4)
		lengthNibble := int(raw[offset] & 0x0F)
		offset++

		delta, n, err := readOptionExt(raw, offset, deltaNibble)
		if err != nil {
			return nil, err
		}
		offset += n
		length, n, err := readOptionExt(raw, offset, lengthNibble)
		if err != nil {
			return nil, err
		}
		offset += n

		optNumber := lastNumber + delta
		lastNumber = optNumber
		if len(raw) < offset+length {
			return nil, oops.Errorf("coap: truncated option value")
		}
		value := raw[offset : offset+length]
		offset += length

		if optNumber == optionURIPath {
			uriPath = append(uriPath, string(value))
		}
	}

	payload := append([]byte{}, raw[offset:]...)

	return &Packet{
		Type:      typ,
		Code:      code,
		MessageID: messageID,
		Token:     token,
		UriPath:   uriPath,
		Payload:   payload,
	}, nil
}

func readOptionExt(raw []byte, offset, nibble int) (value int, consumed int, err error) {
	switch {
	case nibble < 13:
		return nibble, 0, nil
	case nibble == 13:
		if len(raw) < offset+1 {
			return 0, 0, oops.Errorf("coap: truncated extended option byte")
		}
		return int(raw[offset]) + 13, 1, nil
	case nibble == 14:
		if len(raw) < offset+2 {
			return 0, 0, oops.Errorf("coap: truncated extended option word")
		}
		return int(binary.BigEndian.Uint16(raw[offset:offset+2])) + 269, 2, nil
	default:
		return 0, 0, oops.Errorf("coap: reserved option length/delta 15 (payload marker) seen as header")
	}
}
