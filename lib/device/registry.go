package device

import (
	"sync"

	"github.com/fleetstress/fleetstress/lib/coap"
)

// responseWaiter is a completion slot for one pending ACK correlation
// (spec §9 design note: "messageId -> completion-slot map" replacing an
// event-emitter subscription).
type responseWaiter struct {
	ch chan *coap.Packet
}

// responseRegistry correlates inbound ACKs to the outbound confirmable
// message that provoked them, keyed by CoAP message id.
type responseRegistry struct {
	mu      sync.Mutex
	waiters map[uint16]*responseWaiter
}

func newResponseRegistry() *responseRegistry {
	return &responseRegistry{waiters: make(map[uint16]*responseWaiter)}
}

// Register installs a waiter for messageID and returns the channel that
// will receive the matching packet (spec §4.5 "waitForResponse").
func (r *responseRegistry) Register(messageID uint16) <-chan *coap.Packet {
	ch := make(chan *coap.Packet, 1)
	r.mu.Lock()
	r.waiters[messageID] = &responseWaiter{ch: ch}
	r.mu.Unlock()
	return ch
}

// Cancel removes a waiter without delivering a packet, used when a
// waitForResponse call times out so the map doesn't leak.
func (r *responseRegistry) Cancel(messageID uint16) {
	r.mu.Lock()
	delete(r.waiters, messageID)
	r.mu.Unlock()
}

// Deliver matches an inbound ACK against a registered waiter and wakes it.
// Returns false if nothing was waiting on this message id (spec §4.6:
// unmatched ACKs are simply ignored, not an error).
func (r *responseRegistry) Deliver(p *coap.Packet) bool {
	r.mu.Lock()
	w, ok := r.waiters[p.MessageID]
	if ok {
		delete(r.waiters, p.MessageID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	w.ch <- p
	return true
}

// DrainAll resolves every outstanding waiter with nil, the "cancelled"
// resolution spec §5 requires disconnect() to produce for pending
// waitForResponse completions.
func (r *responseRegistry) DrainAll() {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[uint16]*responseWaiter)
	r.mu.Unlock()
	for _, w := range waiters {
		w.ch <- nil
	}
}
