// Package network decides whether a sync attempt should proceed at all.
// The device's own connectivity report is necessary but not sufficient: a
// phone on a captive portal has "network" and no backend. Both signals
// must hold before the engine spends a pass.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/fieldhq/fieldsync/internal/logging"
)

// DefaultPingTimeout bounds the reachability probe. Probes run before
// every pass, so a stalled link must fail fast.
const DefaultPingTimeout = 3 * time.Second

// Pinger is the reachability probe, satisfied by the api client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor combines the host-reported connectivity flag with a live
// reachability check and tracks the overall online verdict.
type Monitor struct {
	pinger      Pinger
	pingTimeout time.Duration

	mu        sync.Mutex
	connected bool
	online    bool
	onChange  func(online bool)
}

// NewMonitor creates a Monitor. The device flag starts true; hosts that
// know better call SetConnected before the first pass.
func NewMonitor(pinger Pinger) *Monitor {
	return &Monitor{
		pinger:      pinger,
		pingTimeout: DefaultPingTimeout,
		connected:   true,
	}
}

// OnChange registers the callback fired whenever the overall verdict
// flips. The callback runs on the caller's goroutine, outside the lock.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// SetConnected records the host's connectivity report. Losing the device
// network settles the verdict offline immediately; gaining it does not
// settle anything until the next reachability probe.
func (m *Monitor) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()

	if !connected {
		m.settle(false)
	}
}

// Connected returns the host-reported flag alone.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Online returns the last settled verdict without probing.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Available reports whether a sync attempt should proceed: the device
// says it has a network and the backend answers a probe within the ping
// timeout. The verdict is settled as a side effect.
func (m *Monitor) Available(ctx context.Context) bool {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()

	verdict := false
	if connected {
		pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
		verdict = m.pinger.Ping(pingCtx) == nil
		cancel()
	}

	m.settle(verdict)
	return verdict
}

// settle records the verdict and fires the transition callback when it
// flipped.
func (m *Monitor) settle(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	notify := m.onChange
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		logging.Info("connectivity regained")
	} else {
		logging.Info("connectivity lost")
	}
	if notify != nil {
		notify(online)
	}
}
