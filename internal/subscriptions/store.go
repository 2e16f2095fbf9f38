package subscriptions

import "context"

// Store persists subscribers. StoreSubscriber is the only capability the
// registry needs; a failure is returned to the caller of Registry.Subscriber
// unchanged.
type Store interface {
	StoreSubscriber(ctx context.Context, sub *Subscriber, channel string) error
}

// SubscriberStore is a Store that can also read subscribers back.
type SubscriberStore interface {
	Store
	// SubscriberByChannel returns ErrSubscriberNotFound for unknown channels.
	SubscriberByChannel(ctx context.Context, channel string) (*Subscriber, error)
	// SubscribersByTopic returns the subscribers stored under topic, oldest first.
	SubscribersByTopic(ctx context.Context, topic string) ([]*Subscriber, error)
	// DeleteSubscriber removes the subscriber of channel. Unknown channels are
	// not an error.
	DeleteSubscriber(ctx context.Context, channel string) error
}
