package store

import (
	"encoding/json"
	"fmt"
	"time"

	language "github.com/hanpama/graphsub/internal/language"
	subscriptions "github.com/hanpama/graphsub/internal/subscriptions"
)

// record is the stored form of a subscriber. The query document is kept as
// GraphQL source text and parsed again on load. Numeric argument values come
// back as float64.
type record struct {
	Channel   string         `json:"channel"`
	FieldName string         `json:"field_name"`
	Query     string         `json:"query,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Topic     string         `json:"topic"`
	Context   []byte         `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func encode(sub *subscriptions.Subscriber, channel string) ([]byte, error) {
	rec := record{
		Channel:   channel,
		FieldName: sub.FieldName,
		Args:      sub.Args,
		Topic:     sub.Topic,
		Context:   sub.Context,
		CreatedAt: sub.CreatedAt,
	}
	if sub.Query != nil {
		rec.Query = language.Print(sub.Query)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode subscriber %s: %w", channel, err)
	}
	return b, nil
}

func decode(data []byte) (*subscriptions.Subscriber, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode subscriber: %w", err)
	}
	sub := &subscriptions.Subscriber{
		Channel:   rec.Channel,
		FieldName: rec.FieldName,
		Args:      rec.Args,
		Topic:     rec.Topic,
		Context:   rec.Context,
		CreatedAt: rec.CreatedAt,
	}
	if rec.Query != "" {
		doc, err := language.ParseQuery(rec.Query)
		if err != nil {
			return nil, fmt.Errorf("decode subscriber %s: parse query: %w", rec.Channel, err)
		}
		sub.Query = doc
	}
	return sub, nil
}
