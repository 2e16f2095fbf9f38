package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	subscriptions "github.com/hanpama/graphsub/internal/subscriptions"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a SubscriberStore backed by Redis. Each subscriber is a string key
// holding the encoded record; each topic is a sorted set of channels scored
// by creation time.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis wraps client. A zero ttl keeps records forever.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) subscriberKey(channel string) string { return r.prefix + "subscriber:" + channel }
func (r *Redis) topicKey(topic string) string        { return r.prefix + "topic:" + topic }

func (r *Redis) StoreSubscriber(ctx context.Context, sub *subscriptions.Subscriber, channel string) error {
	payload, err := encode(sub, channel)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.subscriberKey(channel), payload, r.ttl)
	pipe.ZAdd(ctx, r.topicKey(sub.Topic), redis.Z{Score: float64(sub.CreatedAt.UnixNano()), Member: channel})
	if r.ttl > 0 {
		pipe.Expire(ctx, r.topicKey(sub.Topic), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store subscriber %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) SubscriberByChannel(ctx context.Context, channel string) (*subscriptions.Subscriber, error) {
	payload, err := r.client.Get(ctx, r.subscriberKey(channel)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, subscriptions.ErrSubscriberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load subscriber %s: %w", channel, err)
	}
	return decode(payload)
}

func (r *Redis) SubscribersByTopic(ctx context.Context, topic string) ([]*subscriptions.Subscriber, error) {
	key := r.topicKey(topic)
	channels, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load subscribers for topic %s: %w", topic, err)
	}
	if len(channels) == 0 {
		return nil, nil
	}
	keys := make([]string, len(channels))
	for i, ch := range channels {
		keys[i] = r.subscriberKey(ch)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load subscribers for topic %s: %w", topic, err)
	}

	var (
		out   []*subscriptions.Subscriber
		stale []any
	)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, channels[i])
			continue
		}
		sub, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		// moved to another topic by a later store
		if sub.Topic != topic {
			stale = append(stale, channels[i])
			continue
		}
		out = append(out, sub)
	}
	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, key, stale...).Err(); err != nil {
			r.logger.Warn("failed to prune topic index", zap.String("topic", topic), zap.Error(err))
		} else {
			r.logger.Debug("pruned topic index", zap.String("topic", topic), zap.Int("count", len(stale)))
		}
	}
	return out, nil
}

func (r *Redis) DeleteSubscriber(ctx context.Context, channel string) error {
	sub, err := r.SubscriberByChannel(ctx, channel)
	if errors.Is(err, subscriptions.ErrSubscriberNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.subscriberKey(channel))
	pipe.ZRem(ctx, r.topicKey(sub.Topic), channel)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete subscriber %s: %w", channel, err)
	}
	return nil
}
