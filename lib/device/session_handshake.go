package device

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/fleetstress/fleetstress/lib/crypto/hmacsha1"
	"github.com/fleetstress/fleetstress/lib/crypto/rsacipher"
	"github.com/fleetstress/fleetstress/lib/transport"
	"github.com/samber/oops"
)

const (
	nonceLen          = 40
	sessionSecretsLen = 40
)

// Connect begins the async handshake (spec §4.5, §6). It is idempotent
// while already connecting or Ready, and a no-op once the session has been
// explicitly torn down by Disconnect.
func (s *Session) Connect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.terminal.Load() {
		return
	}
	switch s.State() {
	case StateNonce, StateAwaitSessionKey, StateReady:
		return
	}

	// Claim the session synchronously, under connMu, before the handshake
	// goroutine is even spawned — otherwise a second Connect() call (e.g.
	// from the reconnect timer racing a caller-initiated retry) could also
	// observe StateDisconnected and start a second concurrent handshake for
	// the same identity before the first goroutine gets around to
	// advancing past StateDisconnected itself.
	s.setState(StateNonce)

	s.connCtx, s.connCancel = context.WithCancel(context.Background())
	ctx := s.connCtx
	s.connWG.Add(1)
	go func() {
		defer s.connWG.Done()
		s.runHandshake(ctx)
	}()
}

func (s *Session) runHandshake(ctx context.Context) {
	log := log.WithField("device_id", s.DeviceIDHex())

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		log.WithError(err).Debug("handshake dial failed")
		s.handshakeFailed(ctx, nil)
		return
	}

	// State is already StateNonce: Connect sets it synchronously before
	// spawning this goroutine, so a racing second Connect() call can never
	// observe StateDisconnected while this handshake is in flight.
	nonce := make([]byte, nonceLen)
	if err := readFullWithDeadline(conn, nonce, idleReadTimeout); err != nil {
		log.WithError(err).Debug("handshake: failed to read nonce")
		s.handshakeFailed(ctx, conn)
		return
	}

	pubDER, err := s.identity.PublicKeyDER()
	if err != nil {
		log.WithError(err).Error("handshake: failed to export public key")
		s.handshakeFailed(ctx, conn)
		return
	}

	payload := make([]byte, 0, nonceLen+IdentityByteLen+len(pubDER))
	payload = append(payload, nonce...)
	payload = append(payload, s.identity.ID[:]...)
	payload = append(payload, pubDER...)

	ciphertext, err := rsacipher.EncryptPublic(s.server.Pub, payload)
	if err != nil {
		log.WithError(err).Error("handshake: failed to encrypt handshake payload")
		s.handshakeFailed(ctx, conn)
		return
	}
	if _, err := conn.Write(ciphertext); err != nil {
		log.WithError(err).Debug("handshake: failed to write handshake payload")
		s.handshakeFailed(ctx, conn)
		return
	}

	s.setState(StateAwaitSessionKey)

	// The session-key message is two RSA blocks back to back, each sized to
	// its own key's modulus: sessionKey is encrypted to the device's 1024-bit
	// key (128 bytes) while the signature over it is produced with the
	// server's own (possibly larger) key, so its length follows server.Pub's
	// modulus rather than a fixed 128 (spec §4.5 step 2 fixes both at 128,
	// which only holds when the server key is also 1024-bit; this reads
	// whatever size the configured server key actually is).
	cipherTextLen := s.identity.Priv.Size()
	signedHMACLen := s.server.Pub.Size()
	resp := make([]byte, cipherTextLen+signedHMACLen)
	if err := readFullWithDeadline(conn, resp, idleReadTimeout); err != nil {
		log.WithError(err).Debug("handshake: failed to read session key message")
		s.handshakeFailed(ctx, conn)
		return
	}
	cipherText := resp[:cipherTextLen]
	signedHMAC := resp[cipherTextLen:]

	sessionKey, err := rsacipher.DecryptPrivate(s.identity.Priv, cipherText)
	if err != nil || len(sessionKey) != sessionSecretsLen {
		log.WithError(err).Warn("handshake: failed to decrypt session key")
		s.handshakeFailed(ctx, conn)
		return
	}

	expected := hmacsha1.Sum(sessionKey, cipherText)
	got, err := rsacipher.DecryptPublic(s.server.Pub, signedHMAC)
	if err != nil || !hmacsha1.Equal(got, expected) {
		log.Warn("handshake: session key HMAC verification failed")
		s.handshakeFailed(ctx, conn)
		return
	}

	key := sessionKey[0:16]
	iv := sessionKey[16:32]
	initialMsgID := binary.BigEndian.Uint16(sessionKey[32:34])
	var tokenPrefix [6]byte
	copy(tokenPrefix[:], sessionKey[34:40])

	pipeline := transport.NewPipeline(transport.NewThrottleFilter(s.throttle), transport.NewCipherChain(key, iv))

	s.mu.Lock()
	s.conn = conn
	s.pipeline = pipeline
	s.tokenPrefix = tokenPrefix
	s.mu.Unlock()
	s.msgIDCounter.Store(uint32(initialMsgID))

	s.helloACKed.Store(false)

	s.connWG.Add(2)
	go s.sendLoop(ctx, conn, pipeline)
	go s.receiveLoop(ctx, conn, pipeline)

	s.enqueueHello()
	s.armHelloTimeout(ctx)

	s.connWG.Add(1)
	go s.pingLoop(ctx)

	s.setState(StateReady)
	log.Debug("handshake complete, session ready")
}

// handshakeFailed tears down a half-open connection and schedules a
// reconnect, per spec §4.6 "any cryptographic error is fatal to the current
// session (triggers disconnect/reconnect)".
func (s *Session) handshakeFailed(ctx context.Context, conn net.Conn) {
	if conn != nil {
		conn.Close()
	}
	s.transitionToDisconnected(ctx)
}

func (s *Session) armHelloTimeout(ctx context.Context) {
	timer := time.NewTimer(helloTimeout)
	s.connWG.Add(1)
	go func() {
		defer s.connWG.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			if !s.helloACKed.Load() {
				log.WithField("device_id", s.DeviceIDHex()).Warn("hello response not received within timeout")
				s.transitionToDisconnected(ctx)
			}
		case <-ctx.Done():
		}
	}()
}

func readFullWithDeadline(conn net.Conn, buf []byte, timeout time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return oops.Wrapf(err, "device: set read deadline")
	}
	_, err := io.ReadFull(conn, buf)
	if err != nil {
		return oops.Wrapf(err, "device: read full %d bytes", len(buf))
	}
	return nil
}
