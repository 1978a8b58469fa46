// internal/browser/session/network_monitor.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const idleCheckFrequency = 50 * time.Millisecond

// NetworkMonitor tracks in-flight requests of one tab so navigation can wait
// for the page to settle.
type NetworkMonitor struct {
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	// lastChange is when inflight last became empty or non-empty.
	lastChange time.Time
	now        func() time.Time
}

// NewNetworkMonitor creates a monitor with no requests in flight.
func NewNetworkMonitor(logger *zap.Logger) *NetworkMonitor {
	return &NetworkMonitor{
		logger:     logger.Named("network_monitor"),
		inflight:   make(map[network.RequestID]struct{}),
		lastChange: time.Now(),
		now:        time.Now,
	}
}

// Attach subscribes to the network events of the tab in ctx. The listener
// goes away with the tab.
func (m *NetworkMonitor) Attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, m.handleEvent)
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		m.logger.Warn("Could not enable network domain; idle waits fall back to the hard cap.", zap.Error(err))
	}
}

func (m *NetworkMonitor) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		// Long-lived channels never finish and would hold the page busy forever.
		if e.Type == network.ResourceTypeWebSocket || e.Type == network.ResourceTypeEventSource {
			return
		}
		m.started(e.RequestID)
	case *network.EventLoadingFinished:
		m.finished(e.RequestID)
	case *network.EventLoadingFailed:
		m.finished(e.RequestID)
	}
}

func (m *NetworkMonitor) started(id network.RequestID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inflight) == 0 {
		m.lastChange = m.now()
	}
	m.inflight[id] = struct{}{}
}

func (m *NetworkMonitor) finished(id network.RequestID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[id]; !ok {
		return
	}
	delete(m.inflight, id)
	if len(m.inflight) == 0 {
		m.lastChange = m.now()
	}
}

// Active returns the number of requests in flight.
func (m *NetworkMonitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// idleSince reports how long the network has been quiet, counting from no
// earlier than start. Zero when busy.
func (m *NetworkMonitor) idleSince(start time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inflight) > 0 {
		return 0
	}
	from := m.lastChange
	if start.After(from) {
		from = start
	}
	return m.now().Sub(from)
}

// WaitIdle blocks until no request has been in flight for window, or until
// hardCap elapses. Hitting the cap is not an error: streaming pages never go
// quiet and the step proceeds regardless. Only ctx cancellation is returned.
func (m *NetworkMonitor) WaitIdle(ctx context.Context, window, hardCap time.Duration) error {
	deadline := time.NewTimer(hardCap)
	defer deadline.Stop()
	ticker := time.NewTicker(idleCheckFrequency)
	defer ticker.Stop()

	start := m.now()
	for {
		if m.idleSince(start) >= window {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			m.logger.Debug("Network did not settle before the hard cap.",
				zap.Int("inflight", m.Active()), zap.Duration("hard_cap", hardCap))
			return nil
		case <-ticker.C:
		}
	}
}
