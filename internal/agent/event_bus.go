package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// EventBus fans execution events out to subscribers over buffered channels.
// Emit never blocks: an event for a subscriber whose buffer is full is dropped
// for that subscriber and counted.
type EventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[chan schemas.ExecutionEvent]map[schemas.ExecutionState]bool
	bufferSize  int
	isShutdown  bool

	dropped atomic.Int64
}

var _ schemas.EventSink = (*EventBus)(nil)

// NewEventBus initializes the bus.
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		logger:      logger.Named("event_bus"),
		subscribers: make(map[chan schemas.ExecutionEvent]map[schemas.ExecutionState]bool),
		bufferSize:  bufferSize,
	}
}

// Emit delivers event to every interested subscriber.
func (b *EventBus) Emit(event schemas.ExecutionEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isShutdown {
		return
	}
	for ch, states := range b.subscribers {
		if len(states) > 0 && !states[event.State] {
			continue
		}
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Subscriber buffer full; event dropped.",
				zap.String("state", string(event.State)), zap.String("task_id", event.TaskID))
		}
	}
}

// Subscribe returns a channel of events in the given states, or of all events
// when none are given, and a function that unsubscribes and closes the channel.
func (b *EventBus) Subscribe(states ...schemas.ExecutionState) (<-chan schemas.ExecutionEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan schemas.ExecutionEvent, b.bufferSize)
	filter := make(map[schemas.ExecutionState]bool, len(states))
	for _, s := range states {
		filter[s] = true
	}
	if b.isShutdown {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[ch] = filter

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[ch]; !ok {
				return // Already closed by Shutdown.
			}
			delete(b.subscribers, ch)
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Dropped is the number of events lost to full subscriber buffers.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Shutdown closes every subscriber channel. Later emits are ignored.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return
	}
	b.isShutdown = true
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan schemas.ExecutionEvent]map[schemas.ExecutionState]bool)
}

// multiSink forwards each event to several sinks in order.
type multiSink []schemas.EventSink

func (m multiSink) Emit(event schemas.ExecutionEvent) {
	for _, s := range m {
		s.Emit(event)
	}
}
