package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	out, err := EncodeFrame([]byte{0xAB, 0xCD, 0xEF})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x03, 0xAB, 0xCD, 0xEF}, out)
}

func TestEncodeFrameRejectsOversize(t *testing.T) {
	_, err := EncodeFrame(make([]byte, MaxFrameLength+1))
	require.Error(t, err)
}

func TestFrameDecoderRoundTripAcrossArbitraryChunking(t *testing.T) {
	messages := [][]byte{
		[]byte("hello"),
		[]byte(""),
		[]byte("a much longer message used to exercise multi-chunk reassembly"),
		{0x01},
	}

	var wire []byte
	for _, m := range messages {
		f, err := EncodeFrame(m)
		require.NoError(t, err)
		wire = append(wire, f...)
	}

	for chunkSize := 1; chunkSize <= len(wire); chunkSize++ {
		d := NewFrameDecoder()
		var got [][]byte
		for i := 0; i < len(wire); i += chunkSize {
			end := i + chunkSize
			if end > len(wire) {
				end = len(wire)
			}
			err := d.Feed(wire[i:end], func(frame []byte) {
				cp := make([]byte, len(frame))
				copy(cp, frame)
				got = append(got, cp)
			})
			require.NoError(t, err)
		}
		require.Equal(t, len(messages), len(got), "chunkSize=%d", chunkSize)
		for i, m := range messages {
			require.Equal(t, m, got[i], "chunkSize=%d frame=%d", chunkSize, i)
		}
	}
}

func TestFrameDecoderSplitHeaderByteAtATime(t *testing.T) {
	msg := []byte{0x01, 0x02, 0x03}
	wire, err := EncodeFrame(msg)
	require.NoError(t, err)
	require.Equal(t, 5, len(wire))

	d := NewFrameDecoder()
	var emitted [][]byte
	for i, b := range wire {
		err := d.Feed([]byte{b}, func(frame []byte) {
			cp := make([]byte, len(frame))
			copy(cp, frame)
			emitted = append(emitted, cp)
		})
		require.NoError(t, err)
		if i < len(wire)-1 {
			require.Empty(t, emitted, "no frame should emit before byte #%d", len(wire))
		}
	}
	require.Equal(t, [][]byte{msg}, emitted)
}

func TestFrameDecoderZeroLengthFrame(t *testing.T) {
	wire, err := EncodeFrame(nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00}, wire)

	d := NewFrameDecoder()
	var emitted [][]byte
	err = d.Feed(wire, func(frame []byte) {
		emitted = append(emitted, frame)
	})
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	require.Empty(t, emitted[0])
}

func TestFrameDecoderMultipleFramesInOneChunk(t *testing.T) {
	m1, _ := EncodeFrame([]byte("one"))
	m2, _ := EncodeFrame([]byte("two"))
	wire := append(append([]byte{}, m1...), m2...)

	d := NewFrameDecoder()
	var emitted [][]byte
	err := d.Feed(wire, func(frame []byte) {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		emitted = append(emitted, cp)
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, emitted)
}
