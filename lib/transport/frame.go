// Package transport implements the three leaf stages of the device-to-cloud
// pipeline that sit between the raw socket and CoAP message parsing:
// ThrottleFilter, FrameCodec and CipherChain. Each is deliberately a plain
// struct with explicit Push/Encode/Decode methods rather than a stream
// abstraction (spec §9 design note): DeviceSession wires them together by
// hand, in a fixed order, so the mandatory per-direction ordering (spec §5)
// is visible in the call graph instead of hidden inside a runtime pipe.
package transport

import (
	"encoding/binary"

	"github.com/samber/oops"
)

// MaxFrameLength is the largest payload representable by the 2-byte
// big-endian length prefix (spec §4.2).
const MaxFrameLength = 0xFFFF

// EncodeFrame prepends a 2-byte big-endian length header to msg.
func EncodeFrame(msg []byte) ([]byte, error) {
	if len(msg) > MaxFrameLength {
		return nil, oops.Errorf("transport: frame length %d exceeds max %d", len(msg), MaxFrameLength)
	}
	out := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(out, uint16(len(msg)))
	copy(out[2:], msg)
	return out, nil
}

// FrameDecoder reassembles length-prefixed frames from an arbitrary,
// chunk-at-a-time byte stream (spec §4.2, §3 FramerState). Build one with
// NewFrameDecoder: expectedLen == -1 means "awaiting the 2-byte length
// header", and the zero value (expectedLen == 0) is not in that state.
type FrameDecoder struct {
	expectedLen int
	buf         []byte
	filled      int
	headerByte  []byte // holds a single header byte if the 2-byte header arrives split
}

// NewFrameDecoder returns a decoder in the initial "awaiting header" state.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{expectedLen: -1}
}

// Feed consumes a chunk of inbound bytes and invokes emit once per completed
// frame, in order. A chunk may produce zero, one, or several frames; no
// bytes are ever dropped — they become the current frame, the next frame's
// header, or a pending partial header (spec §4.2 error clause).
func (d *FrameDecoder) Feed(chunk []byte, emit func([]byte)) error {
	for len(chunk) > 0 {
		if d.expectedLen < 0 {
			// Awaiting (possibly split) 2-byte length header.
			d.headerByte = append(d.headerByte, chunk[0])
			chunk = chunk[1:]
			if len(d.headerByte) < 2 {
				continue
			}
			length := int(binary.BigEndian.Uint16(d.headerByte))
			d.headerByte = nil
			d.expectedLen = length
			d.buf = make([]byte, length)
			d.filled = 0
			if length == 0 {
				emit(d.buf)
				d.resetFrame()
			}
			continue
		}

		remaining := d.expectedLen - d.filled
		n := remaining
		if len(chunk) < n {
			n = len(chunk)
		}
		copy(d.buf[d.filled:], chunk[:n])
		d.filled += n
		chunk = chunk[n:]

		if d.filled == d.expectedLen {
			emit(d.buf)
			d.resetFrame()
		}
	}
	return nil
}

func (d *FrameDecoder) resetFrame() {
	d.expectedLen = -1
	d.buf = nil
	d.filled = 0
}
