package store

import (
	"context"
	"slices"
	"sync"

	subscriptions "github.com/hanpama/graphsub/internal/subscriptions"
)

// Memory is a process-local SubscriberStore. Records are kept encoded so
// callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	records  map[string][]byte   // channel -> encoded record
	topics   map[string]string   // channel -> topic
	channels map[string][]string // topic -> channels, insertion order
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string][]byte),
		topics:   make(map[string]string),
		channels: make(map[string][]string),
	}
}

func (m *Memory) StoreSubscriber(_ context.Context, sub *subscriptions.Subscriber, channel string) error {
	b, err := encode(sub, channel)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, seen := m.topics[channel]; !seen || old != sub.Topic {
		if seen {
			m.unindex(old, channel)
		}
		m.channels[sub.Topic] = append(m.channels[sub.Topic], channel)
	}
	m.records[channel] = b
	m.topics[channel] = sub.Topic
	return nil
}

func (m *Memory) SubscriberByChannel(_ context.Context, channel string) (*subscriptions.Subscriber, error) {
	m.mu.RLock()
	b, ok := m.records[channel]
	m.mu.RUnlock()
	if !ok {
		return nil, subscriptions.ErrSubscriberNotFound
	}
	return decode(b)
}

func (m *Memory) SubscribersByTopic(_ context.Context, topic string) ([]*subscriptions.Subscriber, error) {
	m.mu.RLock()
	encoded := make([][]byte, 0, len(m.channels[topic]))
	for _, ch := range m.channels[topic] {
		encoded = append(encoded, m.records[ch])
	}
	m.mu.RUnlock()

	out := make([]*subscriptions.Subscriber, 0, len(encoded))
	for _, b := range encoded {
		sub, err := decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func (m *Memory) DeleteSubscriber(_ context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	topic, ok := m.topics[channel]
	if !ok {
		return nil
	}
	m.unindex(topic, channel)
	delete(m.records, channel)
	delete(m.topics, channel)
	return nil
}

func (m *Memory) unindex(topic, channel string) {
	list := slices.DeleteFunc(slices.Clone(m.channels[topic]), func(c string) bool { return c == channel })
	if len(list) == 0 {
		delete(m.channels, topic)
		return
	}
	m.channels[topic] = list
}
