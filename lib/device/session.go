package device

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetstress/fleetstress/lib/coap"
	"github.com/fleetstress/fleetstress/lib/transport"
)

// State is one of the four DeviceSession lifecycle states (spec §3, §4.5).
type State int32

const (
	StateDisconnected State = iota
	StateNonce
	StateAwaitSessionKey
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateNonce:
		return "Nonce"
	case StateAwaitSessionKey:
		return "AwaitSessionKey"
	case StateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

const (
	pingInterval      = 10 * time.Second
	ackTimeout        = 10 * time.Second
	helloTimeout      = 3 * time.Second
	reconnectDelay    = 15 * time.Second
	idleReadTimeout   = 31 * time.Second
	readChunkSize     = 4096
)

// outboundJob is one request to the send loop: build constructs the wire
// packet given the message id and token the loop assigns, so message-id
// allocation stays confined to the single goroutine that owns it (spec §3
// invariant 2, §5: "the only mandatory cross-task synchronization").
// onAssigned, if set, is called synchronously in the send loop right after
// the message id is chosen — the only point at which a caller waiting on a
// particular id can learn it, since ids are not known until the send loop
// gets around to the job.
type outboundJob struct {
	build      func(msgID uint16) *coap.Packet
	onAssigned func(msgID uint16)
}

// Session is the per-connection device state machine: handshake, CoAP
// request/response, ACK correlation, periodic ping, reconnect (spec §4.5).
// It owns its own transport.Pipeline per connection attempt.
type Session struct {
	identity *Identity
	server   *ServerIdentity
	addr     string
	throttle time.Duration

	state atomic.Int32

	mu           sync.Mutex
	conn         net.Conn
	pipeline     *transport.Pipeline
	tokenPrefix  [6]byte
	msgIDCounter atomic.Uint32 // truncated to uint16 on use; wraps mod 2^16 via that truncation
	webhookName  string

	registry *responseRegistry
	events   *eventBus

	sendCh chan outboundJob

	connMu       sync.Mutex // serializes connect attempts and reconnect scheduling
	connCtx      context.Context
	connCancel   context.CancelFunc
	connWG       sync.WaitGroup
	reconnectTmr *time.Timer

	disconnectOnce sync.Once
	terminal       atomic.Bool

	helloACKed  atomic.Bool
	helloMsgID  atomic.Int32 // -1 until the send loop assigns Hello's message id
	webhookSeq  atomic.Uint64
	lastPingRTT atomic.Int64 // nanoseconds, 0 if unknown

	onStateChange func(State)
}

// Options configure a new Session.
type Options struct {
	Identity    *Identity
	Server      *ServerIdentity
	Addr        string // host:port; default port 5683 applied if none given
	ThrottleMS  int
	WebhookName string        // test webhook event name for SendWebhook
	OnState     func(State)
}

// NewSession constructs a Session (spec §6 new_session). It does not dial;
// call Connect to begin the handshake.
func NewSession(opts Options) *Session {
	addr := normalizeAddr(opts.Addr)
	webhook := opts.WebhookName
	if webhook == "" {
		webhook = "test_webhook"
	}
	s := &Session{
		identity:    opts.Identity,
		server:      opts.Server,
		addr:        addr,
		throttle:    time.Duration(opts.ThrottleMS) * time.Millisecond,
		webhookName: webhook,
		registry:    newResponseRegistry(),
		events:      newEventBus(),
		sendCh:      make(chan outboundJob, 64),
		onStateChange: opts.OnState,
	}
	s.state.Store(int32(StateDisconnected))
	s.helloMsgID.Store(-1)
	return s
}

func normalizeAddr(addr string) string {
	// Strip any scheme the caller supplied (spec §6: "url or IP, scheme stripped").
	for _, scheme := range []string{"tcp://", "coap://", "http://", "https://"} {
		if len(addr) > len(scheme) && addr[:len(scheme)] == scheme {
			addr = addr[len(scheme):]
			break
		}
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "5683")
	}
	return addr
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsConnected reports state == Ready (spec §6).
func (s *Session) IsConnected() bool {
	return s.State() == StateReady
}

// DeviceIDHex returns the device's 24-hex-char id.
func (s *Session) DeviceIDHex() string {
	return s.identity.IDHex()
}

// PublicKeyPEM returns the device's PKCS#8 public key PEM.
func (s *Session) PublicKeyPEM() ([]byte, error) {
	return s.identity.PublicKeyPEM()
}

// Subscribe registers fn to be called for every inbound event named name.
func (s *Session) Subscribe(name string, fn EventSubscriber) subscriptionHandle {
	return s.events.Subscribe(name, fn)
}

// RemoveListener undoes a Subscribe call.
func (s *Session) RemoveListener(h subscriptionHandle) {
	s.events.RemoveListener(h)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if s.onStateChange != nil {
		s.onStateChange(st)
	}
}
