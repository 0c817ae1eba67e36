package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fleetstress/fleetstress/lib/coap"
	"github.com/fleetstress/fleetstress/lib/crypto/randbytes"
)

// describeBlob is the canned Describe JSON the spec's Non-goals explicitly
// permit: "No guarantee of semantic correctness of Describe payloads (a
// static canned blob is sufficient)".
var describeBlob = []byte(`{"f":["digitalread","digitalwrite","analogread","analogwrite"],"v":{"temperature":2},"p":6}`)

// enqueue submits a send-loop job, dropping it if the send queue is
// saturated rather than blocking the caller (spec §5 "no back-pressure").
func (s *Session) enqueue(build func(msgID uint16) *coap.Packet) {
	s.enqueueWithCallback(build, nil)
}

// enqueueWithCallback returns false if the send queue was full and the job
// was dropped — in which case onAssigned is never invoked.
func (s *Session) enqueueWithCallback(build func(msgID uint16) *coap.Packet, onAssigned func(uint16)) bool {
	select {
	case s.sendCh <- outboundJob{build: build, onAssigned: onAssigned}:
		return true
	default:
		log.Warn("send queue full, dropping outbound packet")
		return false
	}
}

func (s *Session) deviceToken() []byte {
	seq := uint16(s.msgIDCounter.Load()) // atomic: read cross-goroutine from whatever counter value is current when the token is built, ahead of the id the send loop will actually assign this packet
	return append(append([]byte{}, s.tokenPrefix[:]...), byte(seq))
}

// enqueueHello sends the device's POST /h (spec §4.5 handshake step 2.7).
func (s *Session) enqueueHello() {
	payload := coap.HelloPayload{
		ProductID:       3,
		FirmwareVersion: 1,
		PlatformID:      6,
	}
	copy(payload.DeviceID[:], s.identity.ID[:])
	body := payload.Encode()
	token := s.deviceToken()
	s.enqueueWithCallback(func(msgID uint16) *coap.Packet {
		return &coap.Packet{
			Type:      coap.TypeConfirmable,
			Code:      coap.CodePOST,
			MessageID: msgID,
			Token:     token,
			UriPath:   []string{"h"},
			Payload:   body,
		}
	}, func(msgID uint16) {
		s.helloMsgID.Store(int32(msgID))
	})
}

// enqueuePing sends a confirmable, code 0.00, no Uri-Path, no payload ping
// (spec §4.5).
func (s *Session) enqueuePing() {
	token := s.deviceToken()
	s.enqueue(func(msgID uint16) *coap.Packet {
		return &coap.Packet{
			Type:      coap.TypeConfirmable,
			Code:      coap.CodeEmpty,
			MessageID: msgID,
			Token:     token,
		}
	})
}

// SendEvent publishes a confirmable POST /e/<name> with payload passthrough
// (spec §4.5 "Event publish").
func (s *Session) SendEvent(name string, payload []byte) {
	token := s.deviceToken()
	s.enqueue(func(msgID uint16) *coap.Packet {
		return &coap.Packet{
			Type:      coap.TypeConfirmable,
			Code:      coap.CodePOST,
			MessageID: msgID,
			Token:     token,
			UriPath:   []string{"e", name},
			Payload:   payload,
		}
	})
}

// SendWebhook triggers a POST /e/<webhookName> with a small JSON payload
// (spec §4.5 "Webhook send", §11 supplemented payload shape).
func (s *Session) SendWebhook() {
	seq := s.webhookSeq.Add(1)
	payload, _ := json.Marshal(map[string]interface{}{
		"test":   true,
		"seq":    seq,
		"sentAt": time.Now().UTC().Format(time.RFC3339),
	})
	s.SendEvent(s.webhookName, payload)
}

// SubscribeEvent sends a confirmable GET /e/<name> and awaits ACK
// correlation, per spec §4.5 "Subscribe" and §4.6's correlation row ("ACK
// timeout (10s) | Yes | Warning log; caller resumes"). The registry wait is
// registered from inside the send loop's onAssigned callback — the same
// point enqueueHello uses to learn the real message id — so the waiter is
// in place before the packet is ever written to the socket, with no window
// for a fast ACK to arrive unmatched.
func (s *Session) SubscribeEvent(ctx context.Context, name string) bool {
	token := s.deviceToken()
	assigned := make(chan uint16, 1)
	var ch <-chan *coap.Packet
	queued := s.enqueueWithCallback(func(msgID uint16) *coap.Packet {
		return &coap.Packet{
			Type:      coap.TypeConfirmable,
			Code:      coap.CodeGET,
			MessageID: msgID,
			Token:     token,
			UriPath:   []string{"e", name},
		}
	}, func(msgID uint16) {
		ch = s.registry.Register(msgID)
		assigned <- msgID
	})
	if !queued {
		return false
	}
	msgID := <-assigned
	return s.awaitChannel(ctx, msgID, ch, ackTimeout)
}

// waitForResponse resolves when a matching ACK with messageID arrives, or
// after timeout with a non-fatal "no ACK" outcome (ok == false), per spec
// §4.5 "ACK correlation".
func (s *Session) waitForResponse(ctx context.Context, messageID uint16, timeout time.Duration) (ok bool) {
	ch := s.registry.Register(messageID)
	return s.awaitChannel(ctx, messageID, ch, timeout)
}

// awaitChannel is the shared wait/timeout/cancel logic behind
// waitForResponse and SubscribeEvent, parameterized over an
// already-registered channel so a caller that must register before its
// packet is sent (SubscribeEvent) doesn't need its own copy of this select.
func (s *Session) awaitChannel(ctx context.Context, messageID uint16, ch <-chan *coap.Packet, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-ch:
		return p != nil
	case <-timer.C:
		s.registry.Cancel(messageID)
		log.WithField("message_id", messageID).Warn("no ACK received within timeout")
		return false
	case <-ctx.Done():
		s.registry.Cancel(messageID)
		return false
	}
}

// dispatchInbound routes one decoded CoAP packet. A response to a
// device-initiated request (Hello, Ping, Event, Subscribe) carries the
// same message id the device assigned the request and no Uri-Path, so it
// is identified by id rather than by IsAck()'s narrow "empty ack" check —
// a piggybacked ACK with a real response code looks exactly like this too.
// Only once neither the Hello correlation nor the waiter registry claims a
// packet is it treated as a server-initiated request and dispatched by its
// first Uri-Path segment (spec §4.5 dispatch table).
func (s *Session) dispatchInbound(p *coap.Packet) {
	if int32(p.MessageID) == s.helloMsgID.Load() {
		s.helloACKed.Store(true)
	}
	if s.registry.Deliver(p) {
		return
	}
	if p.IsAck() {
		return // bare ack with nothing waiting on it (e.g. the Hello ack above)
	}

	if len(p.UriPath) == 0 {
		log.Debug("inbound packet with no Uri-Path, ignoring")
		return
	}

	switch p.UriPath[0] {
	case "h":
		s.helloACKed.Store(true)
	case "d":
		s.replyDescribe(p)
	case "f":
		s.replyFunction(p)
	case "v":
		s.replyVariable(p)
	case "E", "e":
		s.dispatchEvent(p)
	default:
		log.WithField("uri_path", p.UriPath).Debug("unknown CoAP URI, ignoring")
	}
}

func (s *Session) replyDescribe(req *coap.Packet) {
	blob := selectDescribeFlag(req.Payload)
	token := req.Token
	s.enqueue(func(msgID uint16) *coap.Packet {
		return &coap.Packet{
			Type:      coap.TypeAcknowledgement,
			Code:      coap.CodeContent,
			MessageID: msgID,
			Token:     token,
			Payload:   blob,
		}
	})
}

// selectDescribeFlag implements spec §4.6's Describe-flag fallback: a valid
// flag byte (payload[8] in 0..3) is honored, anything else falls back to
// DESCRIBE_ALL (0b11) — the same canned blob either way, since this system
// makes no semantic distinction between describe flags (Non-goals).
func selectDescribeFlag(payload []byte) []byte {
	const describeAll = 0b11
	flag := describeAll
	if len(payload) > 8 {
		if v := int(payload[8]); v <= 3 {
			flag = v
		} else {
			log.WithField("flag", v).Warn("invalid Describe flag byte, falling back to DESCRIBE_ALL")
		}
	}
	_ = flag // flag selection has no effect on content; one canned blob per Non-goals
	return describeBlob
}

func (s *Session) replyFunction(req *coap.Packet) {
	token := req.Token
	s.enqueue(func(msgID uint16) *coap.Packet {
		v, err := randbytes.Uint32()
		if err != nil {
			v = 0
		}
		return &coap.Packet{
			Type:      coap.TypeAcknowledgement,
			Code:      coap.CodeChanged,
			MessageID: msgID,
			Token:     token,
			Payload:   uint32BE(v),
		}
	})
}

func (s *Session) replyVariable(req *coap.Packet) {
	token := req.Token
	s.enqueue(func(msgID uint16) *coap.Packet {
		v, err := randbytes.Uint32()
		if err != nil {
			v = 0
		}
		return &coap.Packet{
			Type:      coap.TypeAcknowledgement,
			Code:      coap.CodeContent,
			MessageID: msgID,
			Token:     token,
			Payload:   uint32BE(v),
		}
	})
}

func uint32BE(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// dispatchEvent handles an inbound Event delivered to this device (private
// "E" or public "e"): the segments between the leading E/e and the trailing
// numeric index form the event name (spec §4.5).
func (s *Session) dispatchEvent(p *coap.Packet) {
	segs := p.UriPath[1:]
	if len(segs) == 0 {
		log.Debug("event packet with no name segments, ignoring")
		return
	}
	nameSegs := segs
	if _, err := strconv.Atoi(segs[len(segs)-1]); err == nil {
		nameSegs = segs[:len(segs)-1]
	}
	if len(nameSegs) == 0 {
		log.Debug("event packet with no name after stripping index, ignoring")
		return
	}

	name := nameSegs[0]
	for _, seg := range nameSegs[1:] {
		name = fmt.Sprintf("%s/%s", name, seg)
	}

	s.events.Dispatch(EventPayload{
		Name:    name,
		Payload: p.Payload,
		Private: p.UriPath[0] == "E",
	})
}

// pingLoop sends a Ping every pingInterval while Ready; ticks are skipped
// when not Ready (spec §4.5 "Periodic tasks").
func (s *Session) pingLoop(ctx context.Context) {
	defer s.connWG.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IsConnected() {
				s.enqueuePing()
			}
		}
	}
}
