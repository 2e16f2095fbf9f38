package subscriptions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	language "github.com/hanpama/graphsub/internal/language"
	schema "github.com/hanpama/graphsub/internal/schema"
)

const testSDL = `
type Query { hello: String }
type Post { id: ID! title: String }
type Subscription {
  postCreated(authorId: ID): Post
  postUpdated: Post
  tick: Int
}
`

func mustSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	return s
}

func mustQuery(t *testing.T, src string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(src)
	require.NoError(t, err)
	return doc
}

// memStore is a SubscriberStore kept in memory for tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*Subscriber
	order   []string
	err     error
	calls   int
}

func newMemStore() *memStore { return &memStore{records: map[string]*Subscriber{}} }

func (s *memStore) StoreSubscriber(_ context.Context, sub *Subscriber, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	if _, ok := s.records[channel]; !ok {
		s.order = append(s.order, channel)
	}
	c := sub.Clone()
	c.Channel = channel
	s.records[channel] = c
	return nil
}

func (s *memStore) SubscriberByChannel(_ context.Context, channel string) (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.records[channel]
	if !ok {
		return nil, ErrSubscriberNotFound
	}
	return sub.Clone(), nil
}

func (s *memStore) SubscribersByTopic(_ context.Context, topic string) ([]*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscriber
	for _, ch := range s.order {
		if sub, ok := s.records[ch]; ok && sub.Topic == topic {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

func (s *memStore) DeleteSubscriber(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, channel)
	return nil
}

// namedHandler is a Base handler distinguishable by name.
type namedHandler struct {
	Base
	name string
}

// stubOracle declares fields without ever registering them.
type stubOracle struct {
	fields   []string
	err      error
	resolved []string
}

func (o *stubOracle) HasSubscriptionField(name string) bool {
	for _, f := range o.fields {
		if f == name {
			return true
		}
	}
	return false
}

func (o *stubOracle) SubscriptionFieldNames() []string { return o.fields }

func (o *stubOracle) ResolveSubscriptionField(name string, _ Registrar) error {
	o.resolved = append(o.resolved, name)
	return o.err
}
