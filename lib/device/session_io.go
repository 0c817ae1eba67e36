package device

import (
	"context"
	"net"
	"time"

	"github.com/fleetstress/fleetstress/lib/coap"
	"github.com/fleetstress/fleetstress/lib/transport"
)

// sendLoop is the single writer goroutine for this connection. It owns
// msgIDCounter exclusively, so allocating and incrementing the message id
// here needs no lock (spec §3 invariant 2, §5). Outbound packets are
// encrypted, framed and written in submission order; a write to a closed
// or errored connection is silently dropped (spec §4.6) rather than
// retried.
func (s *Session) sendLoop(ctx context.Context, conn net.Conn, pipeline *transport.Pipeline) {
	defer s.connWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.sendCh:
			msgID := uint16(s.msgIDCounter.Add(1))
			packet := job.build(msgID)
			if job.onAssigned != nil {
				job.onAssigned(msgID)
			}

			plaintext, err := coap.Encode(packet)
			if err != nil {
				log.WithError(err).Warn("dropping outbound packet: encode failed")
				continue
			}
			wire, err := pipeline.EncodeOutbound(ctx, plaintext)
			if err != nil {
				log.WithError(err).Error("outbound pipeline failure")
				s.transitionToDisconnected(ctx)
				return
			}
			if _, err := conn.Write(wire); err != nil {
				// Write to an unwritable socket: discard silently (spec §4.6);
				// the receive loop will observe the same failure and drive
				// the reconnect.
				log.WithError(err).Debug("write failed, dropping frame")
			}
		}
	}
}

// receiveLoop is the single reader goroutine for this connection. Inbound
// bytes are processed strictly in arrival order through the pipeline so no
// frame is ever decrypted out of order with respect to its predecessors
// (spec §5).
func (s *Session) receiveLoop(ctx context.Context, conn net.Conn, pipeline *transport.Pipeline) {
	defer s.connWG.Done()
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(idleReadTimeout)); err != nil {
			s.transitionToDisconnected(ctx)
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			log.WithError(err).Debug("receive loop: socket error/close/timeout")
			s.transitionToDisconnected(ctx)
			return
		}

		decodeErr := pipeline.DecodeInbound(ctx, buf[:n], func(plaintext []byte) error {
			packet, err := coap.Decode(plaintext)
			if err != nil {
				log.WithError(err).Warn("malformed CoAP packet, ignoring")
				return nil // protocol error: log & ignore, not fatal (spec §4.6)
			}
			s.dispatchInbound(packet)
			return nil
		})
		if decodeErr != nil {
			log.WithError(decodeErr).Warn("cipher chain failure, disconnecting")
			s.transitionToDisconnected(ctx)
			return
		}
	}
}
