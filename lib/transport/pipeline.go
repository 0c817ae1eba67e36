package transport

import "context"

// Pipeline composes ThrottleFilter, FrameCodec and CipherChain into the two
// directions described in spec §2's data-flow diagram, as a pair of plain
// methods rather than a stream graph (spec §9 design note).
//
//	outbound: CipherChain(encrypt) -> FrameCodec(encode) -> ThrottleFilter -> socket
//	inbound:  socket -> ThrottleFilter -> FrameCodec(decode) -> CipherChain(decrypt) -> caller
type Pipeline struct {
	Throttle *ThrottleFilter
	Cipher   *CipherChain
	decoder  *FrameDecoder
}

// NewPipeline builds a pipeline over an already-established CipherChain.
func NewPipeline(throttle *ThrottleFilter, cipher *CipherChain) *Pipeline {
	return &Pipeline{
		Throttle: throttle,
		Cipher:   cipher,
		decoder:  NewFrameDecoder(),
	}
}

// EncodeOutbound turns a plaintext CoAP packet into wire bytes ready to
// write to the socket: encrypt, frame, throttle. Callers are responsible
// for serializing concurrent calls (spec §5: "Interleaving is not
// permitted") — Pipeline itself holds no lock, matching the teacher's
// single-writer-goroutine convention.
func (p *Pipeline) EncodeOutbound(ctx context.Context, plaintext []byte) ([]byte, error) {
	ciphertext, err := p.Cipher.Send.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	framed, err := EncodeFrame(ciphertext)
	if err != nil {
		return nil, err
	}
	if err := p.Throttle.Delay(ctx); err != nil {
		return nil, err
	}
	return framed, nil
}

// DecodeInbound feeds a raw chunk read from the socket through throttle,
// frame reassembly and decryption, invoking emit once per decrypted CoAP
// packet in arrival order (spec §5: "No frame may be decrypted out of
// order with respect to its predecessors").
func (p *Pipeline) DecodeInbound(ctx context.Context, chunk []byte, emit func([]byte) error) error {
	if err := p.Throttle.Delay(ctx); err != nil {
		return err
	}
	var decodeErr error
	feedErr := p.decoder.Feed(chunk, func(frame []byte) {
		if decodeErr != nil {
			return
		}
		plaintext, err := p.Cipher.Recv.Decrypt(frame)
		if err != nil {
			decodeErr = err
			return
		}
		if err := emit(plaintext); err != nil {
			decodeErr = err
		}
	})
	if feedErr != nil {
		return feedErr
	}
	return decodeErr
}
