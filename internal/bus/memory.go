// Package bus provides an in-memory implementation of the signal bus, used
// when Redis is disabled and as the default for tests.
package bus

import (
	"context"
	"strconv"
	"sync"

	"github.com/tradewatch/sentinel/internal/domain"
)

const subscriberBuffer = 64

// Memory is a process-local SignalBus. Pub/sub subscribers get a bounded
// buffered channel; events for a full subscriber are dropped rather than
// blocking the publisher. Streams are append-only slices with 1-based
// numeric IDs.
type Memory struct {
	mu      sync.RWMutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
}

// NewMemory creates an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish fans the payload out to all current subscribers of the channel.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subs[channel] {
		select {
		case sub <- payload:
		default:
			// Slow subscriber, drop.
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the channel. The returned channel
// is closed when ctx is done.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		subs := m.subs[channel]
		for i, sub := range subs {
			if sub == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// StreamAppend appends the payload to the named stream.
func (m *Memory) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strconv.Itoa(len(m.streams[stream]) + 1)
	m.streams[stream] = append(m.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

// StreamRead returns up to count messages after lastID. An empty lastID
// reads from the start of the stream.
func (m *Memory) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if lastID != "" {
		n, err := strconv.Atoi(lastID)
		if err != nil {
			return nil, err
		}
		start = n
	}

	msgs := m.streams[stream]
	if start >= len(msgs) {
		return nil, nil
	}
	end := start + count
	if count <= 0 || end > len(msgs) {
		end = len(msgs)
	}

	out := make([]domain.StreamMessage, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

var _ domain.SignalBus = (*Memory)(nil)
