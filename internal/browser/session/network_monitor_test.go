package session

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNetworkMonitor_CountsRequests(t *testing.T) {
	m := NewNetworkMonitor(zaptest.NewLogger(t))

	m.handleEvent(&network.EventRequestWillBeSent{RequestID: "1", Type: network.ResourceTypeDocument})
	m.handleEvent(&network.EventRequestWillBeSent{RequestID: "2", Type: network.ResourceTypeXHR})
	m.handleEvent(&network.EventRequestWillBeSent{RequestID: "ws", Type: network.ResourceTypeWebSocket})
	assert.Equal(t, 2, m.Active(), "websockets are not counted")

	m.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
	m.handleEvent(&network.EventLoadingFailed{RequestID: "2"})
	m.handleEvent(&network.EventLoadingFinished{RequestID: "unknown"})
	assert.Equal(t, 0, m.Active())
}

func TestNetworkMonitor_WaitIdleReturnsAfterQuietWindow(t *testing.T) {
	m := NewNetworkMonitor(zaptest.NewLogger(t))
	m.handleEvent(&network.EventRequestWillBeSent{RequestID: "1"})

	go func() {
		time.Sleep(30 * time.Millisecond)
		m.handleEvent(&network.EventLoadingFinished{RequestID: "1"})
	}()

	start := time.Now()
	require.NoError(t, m.WaitIdle(context.Background(), 100*time.Millisecond, 5*time.Second))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 130*time.Millisecond, "waits for the request and then the full window")
	assert.Less(t, elapsed, 2*time.Second)
}

func TestNetworkMonitor_HardCapBoundsStreamingPages(t *testing.T) {
	m := NewNetworkMonitor(zaptest.NewLogger(t))
	m.handleEvent(&network.EventRequestWillBeSent{RequestID: "long-poll"})

	start := time.Now()
	require.NoError(t, m.WaitIdle(context.Background(), 50*time.Millisecond, 150*time.Millisecond),
		"hitting the cap is not an error")
	assert.Less(t, time.Since(start), time.Second)
}

func TestNetworkMonitor_WaitIdleCancelled(t *testing.T) {
	m := NewNetworkMonitor(zaptest.NewLogger(t))
	m.handleEvent(&network.EventRequestWillBeSent{RequestID: "1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WaitIdle(ctx, time.Second, 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
