package subscriptions

import (
	"context"
	"maps"
	"time"

	language "github.com/hanpama/graphsub/internal/language"
)

// Subscriber is one client's binding to a subscription field for a specific
// query document and execution context.
type Subscriber struct {
	// Channel is the channel the subscriber was stored under. Stores fill it
	// when loading; it is empty on a subscriber that was never stored.
	Channel string
	// FieldName is the subscription root field this subscriber listens to.
	FieldName string
	// Query is the parsed operation document.
	Query *language.QueryDocument
	// Args are the evaluated arguments of the subscribed field.
	Args map[string]any
	// Topic is the topic the handler encoded for this subscriber.
	Topic string
	// Context is the serialized execution context, see ContextSerializer.
	Context []byte
	// CreatedAt is when the subscription request was received.
	CreatedAt time.Time
}

// NewSubscriber creates the request-level subscriber for doc. The serialized
// execution context is taken from ctx through serializer when it is non-nil.
func NewSubscriber(ctx context.Context, doc *language.QueryDocument, serializer ContextSerializer) (*Subscriber, error) {
	sub := &Subscriber{Query: doc, CreatedAt: time.Now().UTC()}
	if serializer != nil {
		data, err := serializer.Serialize(ctx)
		if err != nil {
			return nil, err
		}
		sub.Context = data
	}
	return sub, nil
}

// ForField derives the subscriber of one selected field, evaluating its
// arguments against vars.
func (s *Subscriber) ForField(field *language.Field, vars map[string]any) (*Subscriber, error) {
	args, err := language.ArgumentValues(field, vars)
	if err != nil {
		return nil, err
	}
	return s.withField(field.Name, args), nil
}

func (s *Subscriber) withField(name string, args map[string]any) *Subscriber {
	out := *s
	out.Channel = ""
	out.FieldName = name
	out.Args = args
	out.Topic = ""
	return &out
}

// Clone returns a copy of s that does not share its Args map.
func (s *Subscriber) Clone() *Subscriber {
	out := *s
	out.Args = maps.Clone(s.Args)
	return &out
}
