package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	logging "github.com/hanpama/graphsub/internal/logging"
)

// Delivery is one update ready to be published on a subscriber's channel.
type Delivery struct {
	Channel   string `json:"channel"`
	FieldName string `json:"field"`
	Data      any    `json:"data"`
}

// Dispatcher prepares the deliveries of a published root value. Sending them
// over a transport is left to the caller.
type Dispatcher struct {
	registry   *Registry
	store      SubscriberStore
	serializer ContextSerializer
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher. serializer may be nil when subscribers
// carry no execution context.
func NewDispatcher(reg *Registry, store SubscriberStore, serializer ContextSerializer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:   reg,
		store:      store,
		serializer: serializer,
		logger:     logging.Component(logger, "dispatcher"),
	}
}

// Deliveries resolves root for every subscriber of fieldName listening on the
// topic the handler decodes from root. Subscribers that fail to restore,
// filter or resolve are skipped; their errors are joined into the returned
// error alongside the deliveries that succeeded.
func (d *Dispatcher) Deliveries(ctx context.Context, fieldName string, root any) ([]Delivery, error) {
	if !d.registry.Has(fieldName) {
		return nil, &FieldNotFoundError{Name: fieldName}
	}
	h, err := d.registry.Subscription(fieldName)
	if err != nil {
		return nil, err
	}
	topic := h.DecodeTopic(fieldName, root)
	subs, err := d.store.SubscribersByTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("load subscribers of topic %q: %w", topic, err)
	}

	var (
		out  []Delivery
		errs []error
	)
	for _, sub := range subs {
		if sub.FieldName != fieldName {
			continue
		}
		data, ok, err := d.resolve(ctx, h, sub, root)
		if err != nil {
			d.logger.Warn("subscriber skipped",
				zap.String("field", fieldName),
				zap.String("channel", sub.Channel),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("channel %s: %w", sub.Channel, err))
			continue
		}
		if !ok {
			continue
		}
		out = append(out, Delivery{Channel: sub.Channel, FieldName: fieldName, Data: data})
	}
	return out, errors.Join(errs...)
}

// Unsubscribe removes the subscriber listening on a vacated channel and
// returns it. Unknown channels yield ErrSubscriberNotFound.
func (d *Dispatcher) Unsubscribe(ctx context.Context, channel string) (*Subscriber, error) {
	sub, err := d.store.SubscriberByChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	if err := d.store.DeleteSubscriber(ctx, channel); err != nil {
		return nil, fmt.Errorf("delete subscriber of channel %q: %w", channel, err)
	}
	d.logger.Debug("subscriber removed",
		zap.String("field", sub.FieldName),
		zap.String("channel", channel),
		zap.String("topic", sub.Topic))
	return sub, nil
}

func (d *Dispatcher) resolve(ctx context.Context, h Handler, sub *Subscriber, root any) (any, bool, error) {
	subCtx := ctx
	if d.serializer != nil && len(sub.Context) > 0 {
		restored, err := d.serializer.Unserialize(ctx, sub.Context)
		if err != nil {
			return nil, false, err
		}
		subCtx = restored
	}
	ok, err := h.Filter(subCtx, sub, root)
	if err != nil || !ok {
		return nil, false, err
	}
	data, err := h.Resolve(subCtx, sub, root)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
