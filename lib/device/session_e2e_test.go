package device

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/fleetstress/fleetstress/lib/coap"
	"github.com/fleetstress/fleetstress/lib/crypto/hmacsha1"
	"github.com/fleetstress/fleetstress/lib/crypto/rsacipher"
	"github.com/fleetstress/fleetstress/lib/transport"
	"github.com/stretchr/testify/require"
)

// stubServer is a hand-written in-process counterpart to the handshake and
// framing this package implements, standing in for the real cloud server
// in the scenarios spec §8 describes. It performs the server side of the
// handshake and the 2-byte length framing by hand rather than through this
// package's handshake code or lib/transport's Pipeline; it does reuse the
// lib/crypto primitives, lib/coap and transport.CipherChain.
type stubServer struct {
	t          *testing.T
	ln         net.Listener
	serverPriv *rsa.PrivateKey
}

func newStubServer(t *testing.T) *stubServer {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &stubServer{t: t, ln: ln, serverPriv: priv}
}

func (s *stubServer) addr() string { return s.ln.Addr().String() }

func (s *stubServer) serverIdentity() *ServerIdentity {
	return &ServerIdentity{Pub: &s.serverPriv.PublicKey}
}

// acceptHandshake performs one handshake as the server, with a fixed
// session key of 01 02 ... 28, then returns the connection and the
// server-side CipherChain for further scripted exchange. badHMAC forces scenario B: a random,
// non-matching signature.
func (s *stubServer) acceptHandshake(badHMAC bool) (net.Conn, *transport.CipherChain) {
	conn, err := s.ln.Accept()
	require.NoError(s.t, err)

	nonce := make([]byte, nonceLen)
	for i := range nonce {
		nonce[i] = 0x00
	}
	_, err = conn.Write(nonce)
	require.NoError(s.t, err)

	hello := make([]byte, s.serverPriv.Size())
	_, err = readFullHelper(conn, hello)
	require.NoError(s.t, err)
	helloPlain, err := rsacipher.DecryptPrivate(s.serverPriv, hello)
	require.NoError(s.t, err)

	devicePub, err := rsacipher.ParsePublicDER(helloPlain[nonceLen+IdentityByteLen:])
	require.NoError(s.t, err)

	sessionKey := make([]byte, sessionSecretsLen)
	for i := range sessionKey {
		sessionKey[i] = byte(i + 1) // 01 02 ... 28
	}

	cipherText, err := rsacipher.EncryptPublic(devicePub, sessionKey)
	require.NoError(s.t, err)

	var signedHMAC []byte
	if badHMAC {
		signedHMAC = make([]byte, s.serverPriv.Size())
		for i := range signedHMAC {
			signedHMAC[i] = byte(i)
		}
	} else {
		hmacVal := hmacsha1.Sum(sessionKey, cipherText)
		signedHMAC, err = rsacipher.EncryptPrivate(s.serverPriv, hmacVal)
		require.NoError(s.t, err)
	}

	_, err = conn.Write(append(append([]byte{}, cipherText...), signedHMAC...))
	require.NoError(s.t, err)

	key := sessionKey[0:16]
	iv := sessionKey[16:32]
	chain := transport.NewCipherChain(key, iv)
	return conn, chain
}

func readFullHelper(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readInboundPacket reads one framed, encrypted CoAP packet off conn and
// decodes it, mirroring the [2-byte length][ciphertext] wire form
// lib/transport/pipeline.go produces.
func readInboundPacket(t *testing.T, conn net.Conn, chain *transport.CipherChain) *coap.Packet {
	lenBuf := make([]byte, 2)
	_, err := readFullHelper(conn, lenBuf)
	require.NoError(t, err)
	frameLen := int(binary.BigEndian.Uint16(lenBuf))
	ciphertext := make([]byte, frameLen)
	_, err = readFullHelper(conn, ciphertext)
	require.NoError(t, err)
	plaintext, err := chain.Recv.Decrypt(ciphertext)
	require.NoError(t, err)
	pkt, err := coap.Decode(plaintext)
	require.NoError(t, err)
	return pkt
}

// writeOutboundPacket encrypts and frames pkt, the server-side counterpart
// to readInboundPacket, for scripting server-initiated requests.
func writeOutboundPacket(t *testing.T, conn net.Conn, chain *transport.CipherChain, pkt *coap.Packet) {
	body, err := coap.Encode(pkt)
	require.NoError(t, err)
	ciphertext, err := chain.Send.Encrypt(body)
	require.NoError(t, err)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(ciphertext)))
	_, err = conn.Write(append(lenBuf, ciphertext...))
	require.NoError(t, err)
}

// ackHello reads the device's handshake-closing Hello and acknowledges it,
// the common prefix every scenario beyond A needs before it can script
// anything further over the connection.
func ackHello(t *testing.T, conn net.Conn, chain *transport.CipherChain) *coap.Packet {
	hello := readInboundPacket(t, conn, chain)
	writeOutboundPacket(t, conn, chain, &coap.Packet{
		Type:      coap.TypeAcknowledgement,
		Code:      coap.CodeEmpty,
		MessageID: hello.MessageID,
		Token:     hello.Token,
	})
	return hello
}

func TestSessionHandshakeScenarioA(t *testing.T) {
	server := newStubServer(t)

	id, err := NewIdentity()
	require.NoError(t, err)

	sess := NewSession(Options{
		Identity: id,
		Server:   server.serverIdentity(),
		Addr:     server.addr(),
	})

	done := make(chan struct{})
	var heloPkt *coap.Packet
	go func() {
		defer close(done)
		conn, chain := server.acceptHandshake(false)
		defer conn.Close()
		heloPkt = ackHello(t, conn, chain)
	}()

	sess.Connect()

	require.Eventually(t, func() bool {
		return sess.IsConnected()
	}, 3*time.Second, 10*time.Millisecond, "session should reach Ready")

	<-done
	require.NotNil(t, heloPkt)
	require.Equal(t, []string{"h"}, heloPkt.UriPath)
	require.Equal(t, coap.CodePOST, heloPkt.Code)

	sess.Disconnect()
}

func TestSessionHandshakeScenarioBBadHMACDisconnects(t *testing.T) {
	server := newStubServer(t)

	id, err := NewIdentity()
	require.NoError(t, err)

	sess := NewSession(Options{
		Identity: id,
		Server:   server.serverIdentity(),
		Addr:     server.addr(),
	})

	go func() {
		conn, _ := server.acceptHandshake(true)
		defer conn.Close()
		// Give the device time to process the bad HMAC before the
		// listener goroutine exits and the connection closes.
		time.Sleep(200 * time.Millisecond)
	}()

	sess.Connect()

	require.Never(t, func() bool {
		return sess.IsConnected()
	}, 500*time.Millisecond, 20*time.Millisecond, "session must never reach Ready on a bad HMAC")

	sess.Disconnect()
}

// TestSessionScenarioCDescribeReply covers spec §8 scenario C: a server GET
// /d with token 0xAB must be answered with 2.05 Content carrying the
// Describe blob and the same token echoed back.
func TestSessionScenarioCDescribeReply(t *testing.T) {
	server := newStubServer(t)

	id, err := NewIdentity()
	require.NoError(t, err)

	sess := NewSession(Options{
		Identity: id,
		Server:   server.serverIdentity(),
		Addr:     server.addr(),
	})

	replyCh := make(chan *coap.Packet, 1)
	go func() {
		conn, chain := server.acceptHandshake(false)
		defer conn.Close()
		ackHello(t, conn, chain)

		writeOutboundPacket(t, conn, chain, &coap.Packet{
			Type:      coap.TypeConfirmable,
			Code:      coap.CodeGET,
			MessageID: 100,
			Token:     []byte{0xAB},
			UriPath:   []string{"d"},
		})

		replyCh <- readInboundPacket(t, conn, chain)
	}()

	sess.Connect()
	require.Eventually(t, sess.IsConnected, 3*time.Second, 10*time.Millisecond)

	var reply *coap.Packet
	select {
	case reply = <-replyCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Describe reply")
	}

	require.Equal(t, coap.CodeContent, reply.Code)
	require.Equal(t, []byte{0xAB}, reply.Token)
	require.Equal(t, describeBlob, reply.Payload)

	sess.Disconnect()
}

// TestSessionScenarioDFunctionReply covers spec §8 scenario D: a server
// POST /f/any must be answered with 2.04 Changed carrying a 4-byte
// big-endian u32 payload and the request's token echoed back.
func TestSessionScenarioDFunctionReply(t *testing.T) {
	server := newStubServer(t)

	id, err := NewIdentity()
	require.NoError(t, err)

	sess := NewSession(Options{
		Identity: id,
		Server:   server.serverIdentity(),
		Addr:     server.addr(),
	})

	replyCh := make(chan *coap.Packet, 1)
	go func() {
		conn, chain := server.acceptHandshake(false)
		defer conn.Close()
		ackHello(t, conn, chain)

		writeOutboundPacket(t, conn, chain, &coap.Packet{
			Type:      coap.TypeConfirmable,
			Code:      coap.CodePOST,
			MessageID: 101,
			Token:     []byte{0x07},
			UriPath:   []string{"f", "any"},
		})

		replyCh <- readInboundPacket(t, conn, chain)
	}()

	sess.Connect()
	require.Eventually(t, sess.IsConnected, 3*time.Second, 10*time.Millisecond)

	var reply *coap.Packet
	select {
	case reply = <-replyCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Function reply")
	}

	require.Equal(t, coap.CodeChanged, reply.Code)
	require.Equal(t, []byte{0x07}, reply.Token)
	require.Len(t, reply.Payload, 4)

	sess.Disconnect()
}

// TestMessageIDMonotonicity covers spec §3 invariant 4: outbound
// message-ids form a strictly increasing sequence mod 65536 over a
// session's lifetime, with no two ever equal.
func TestMessageIDMonotonicity(t *testing.T) {
	server := newStubServer(t)

	id, err := NewIdentity()
	require.NoError(t, err)

	sess := NewSession(Options{
		Identity: id,
		Server:   server.serverIdentity(),
		Addr:     server.addr(),
	})

	const sends = 5
	ids := make(chan uint16, sends+1)
	go func() {
		conn, chain := server.acceptHandshake(false)
		defer conn.Close()
		hello := ackHello(t, conn, chain)
		ids <- hello.MessageID
		for i := 0; i < sends; i++ {
			ids <- readInboundPacket(t, conn, chain).MessageID
		}
	}()

	sess.Connect()
	require.Eventually(t, sess.IsConnected, 3*time.Second, 10*time.Millisecond)

	for i := 0; i < sends; i++ {
		sess.SendEvent("tick", nil)
		time.Sleep(10 * time.Millisecond)
	}

	seen := make([]uint16, 0, sends+1)
	for i := 0; i < sends+1; i++ {
		select {
		case id := <-ids:
			seen = append(seen, id)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out collecting message ids, got %v", seen)
		}
	}

	for i := 1; i < len(seen); i++ {
		require.Equal(t, seen[i-1]+1, seen[i], "message ids must increase by exactly one, wrapping mod 65536")
	}

	sess.Disconnect()
}

// TestDisconnectIsIdempotentAndSuppressesReconnect covers spec §3
// invariants 5 and 6: a second Disconnect is a harmless no-op, and once
// terminal no subsequent socket event schedules a reconnect.
func TestDisconnectIsIdempotentAndSuppressesReconnect(t *testing.T) {
	server := newStubServer(t)

	id, err := NewIdentity()
	require.NoError(t, err)

	sess := NewSession(Options{
		Identity: id,
		Server:   server.serverIdentity(),
		Addr:     server.addr(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, chain := server.acceptHandshake(false)
		defer conn.Close()
		ackHello(t, conn, chain)
	}()

	sess.Connect()
	require.Eventually(t, sess.IsConnected, 3*time.Second, 10*time.Millisecond)
	<-done

	connCtx := sess.connCtx

	sess.Disconnect()
	require.Equal(t, StateDisconnected, sess.State())
	require.True(t, sess.terminal.Load())
	require.Nil(t, sess.reconnectTmr)

	require.NotPanics(t, func() { sess.Disconnect() }, "a second Disconnect must be a harmless no-op")
	require.Equal(t, StateDisconnected, sess.State())

	// Simulate a straggling socket-error callback from the torn-down
	// connection racing the disconnect: it must not schedule a reconnect
	// once the session is terminal.
	sess.transitionToDisconnected(connCtx)
	require.Nil(t, sess.reconnectTmr)
	require.Equal(t, StateDisconnected, sess.State())
}
