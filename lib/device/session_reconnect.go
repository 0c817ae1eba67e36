package device

import (
	"context"
	"time"
)

// transitionToDisconnected tears down the current connection attempt and,
// unless the session has been explicitly terminated by Disconnect,
// schedules a reconnect after reconnectDelay (spec §4.6 "any transport or
// cryptographic error is fatal to the current session"). It is safe to
// call from any of the per-connection goroutines (send/receive/ping/hello
// timeout) and is idempotent per connection attempt: the connCancel it
// triggers makes every other goroutine's ctx.Done() fire exactly once.
func (s *Session) transitionToDisconnected(ctx context.Context) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.connCtx != ctx {
		// A newer connection attempt already superseded this one; this
		// call is a straggler from the connection that just lost the race.
		return
	}

	s.setState(StateDisconnected)

	if s.connCancel != nil {
		s.connCancel()
	}

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.pipeline = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	registry := s.registry
	go registry.DrainAll()

	if s.terminal.Load() {
		return
	}

	log.WithField("device_id", s.DeviceIDHex()).WithField("delay", reconnectDelay).Debug("scheduling reconnect")
	s.reconnectTmr = time.AfterFunc(reconnectDelay, s.Connect)
}

// Disconnect permanently tears down the session (spec §6 close_session). It
// is idempotent: subsequent calls are no-ops, and no further reconnect is
// scheduled regardless of in-flight handshake state.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() {
		s.terminal.Store(true)

		s.connMu.Lock()
		if s.reconnectTmr != nil {
			s.reconnectTmr.Stop()
			s.reconnectTmr = nil
		}
		cancel := s.connCancel
		s.connMu.Unlock()
		if cancel != nil {
			cancel()
		}

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.pipeline = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		s.connWG.Wait()
		s.registry.DrainAll()
		s.setState(StateDisconnected)
	})
}
