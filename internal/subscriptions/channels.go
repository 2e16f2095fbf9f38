package subscriptions

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChannelMap maps subscription field names to channel names and preserves the
// order in which fields were first recorded. Recording a field again replaces
// its channel but keeps its position.
type ChannelMap struct {
	keys   []string
	values map[string]string
}

func (m *ChannelMap) set(field, channel string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[field]; !ok {
		m.keys = append(m.keys, field)
	}
	m.values[field] = channel
}

func (m *ChannelMap) reset() {
	m.keys = nil
	m.values = nil
}

// First returns the channel of the first recorded field.
func (m *ChannelMap) First() (string, bool) {
	if len(m.keys) == 0 {
		return "", false
	}
	return m.values[m.keys[0]], true
}

// Get returns the channel recorded for field.
func (m *ChannelMap) Get(field string) (string, bool) {
	ch, ok := m.values[field]
	return ch, ok
}

// Len returns the number of recorded fields.
func (m *ChannelMap) Len() int { return len(m.keys) }

// Fields returns the recorded field names in insertion order.
func (m *ChannelMap) Fields() []string { return append([]string(nil), m.keys...) }

// Map returns the entries as a plain map.
func (m *ChannelMap) Map() map[string]string {
	out := make(map[string]string, len(m.keys))
	for _, k := range m.keys {
		out[k] = m.values[k]
	}
	return out
}

func (m *ChannelMap) clone() *ChannelMap {
	return &ChannelMap{keys: m.Fields(), values: m.Map()}
}

// MarshalJSON encodes the entries as a JSON object in insertion order.
func (m *ChannelMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NewChannelName returns a fresh private channel name of the form
// private-graphsub-<32 hex chars>-<unix seconds>.
func NewChannelName() string {
	u := uuid.New()
	return fmt.Sprintf("private-graphsub-%s-%d", hex.EncodeToString(u[:]), time.Now().Unix())
}
