package device

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

// FleetOptions configures a DeviceFleet (spec §6 new_session applied N
// times, spec §7 "Load characteristics": connects are rate-limited, not
// instantaneous).
type FleetOptions struct {
	Server       *ServerIdentity
	Addr         string
	Count        int
	DataDir      string
	ThrottleMS   int
	WebhookEvery time.Duration // not read by NewFleet or Run; Run's webhookEvery argument sets the interval
	ConnectRate  rate.Limit
	ConnectBurst int
	OnDeviceState func(deviceIdx int, st State)
}

// DeviceFleet owns a population of simulated devices and paces their
// initial connects through a token-bucket limiter so a run of thousands of
// devices doesn't open them all in the same instant (spec §7).
type DeviceFleet struct {
	sessions     []*Session
	connectRate  rate.Limit
	connectBurst int
	cancelFn     context.CancelFunc
	wg           sync.WaitGroup
}

// NewFleet mints Count fresh device identities, persists each under DataDir
// (when set), and builds one Session per device, but does not connect any
// of them. Keys already on disk under DataDir are not reloaded.
func NewFleet(opts FleetOptions) (*DeviceFleet, error) {
	if opts.Count <= 0 {
		return nil, oops.Errorf("device: fleet count must be positive, got %d", opts.Count)
	}

	connectRate := opts.ConnectRate
	if connectRate <= 0 {
		connectRate = rate.Limit(5)
	}
	connectBurst := opts.ConnectBurst
	if connectBurst <= 0 {
		connectBurst = 1
	}

	f := &DeviceFleet{
		sessions:     make([]*Session, opts.Count),
		connectRate:  connectRate,
		connectBurst: connectBurst,
	}
	for i := 0; i < opts.Count; i++ {
		id, err := LoadOrCreateIdentity(opts.DataDir, "")
		if err != nil {
			return nil, oops.Wrapf(err, "device: mint identity %d/%d", i, opts.Count)
		}
		idx := i
		sess := NewSession(Options{
			Identity:   id,
			Server:     opts.Server,
			Addr:       opts.Addr,
			ThrottleMS: opts.ThrottleMS,
			OnState: func(st State) {
				if opts.OnDeviceState != nil {
					opts.OnDeviceState(idx, st)
				}
			},
		})
		f.sessions[i] = sess
	}
	return f, nil
}

// Sessions returns the fleet's devices in creation order.
func (f *DeviceFleet) Sessions() []*Session {
	return f.sessions
}

// Run connects every device, paced by the fleet's connect rate limiter,
// then if webhookEvery is nonzero fires a periodic webhook per device
// until ctx is canceled. It blocks until ctx is done, then disconnects
// every device and waits for their teardown to finish.
func (f *DeviceFleet) Run(ctx context.Context, webhookEvery time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	f.cancelFn = cancel
	defer cancel()

	limiter := rate.NewLimiter(f.connectRate, f.connectBurst)
	for _, sess := range f.sessions {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		sess.Connect()
		if webhookEvery > 0 {
			f.wg.Add(1)
			go f.webhookLoop(ctx, sess, webhookEvery)
		}
	}

	<-ctx.Done()

	for _, sess := range f.sessions {
		sess.Disconnect()
	}
	f.wg.Wait()
	return nil
}

func (f *DeviceFleet) webhookLoop(ctx context.Context, sess *Session, every time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess.IsConnected() {
				sess.SendWebhook()
			}
		}
	}
}

// Stop cancels an in-progress Run.
func (f *DeviceFleet) Stop() {
	if f.cancelFn != nil {
		f.cancelFn()
	}
}

// ConnectedCount reports how many devices currently hold a Ready session,
// for dashboard rendering (spec §11 supplemented telemetry).
func (f *DeviceFleet) ConnectedCount() int {
	n := 0
	for _, s := range f.sessions {
		if s.IsConnected() {
			n++
		}
	}
	return n
}
