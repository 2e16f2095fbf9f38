package subscriptions

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewChannelName(t *testing.T) {
	re := regexp.MustCompile(`^private-graphsub-[0-9a-f]{32}-\d+$`)
	a, b := NewChannelName(), NewChannelName()
	require.Regexp(t, re, a)
	require.Regexp(t, re, b)
	require.NotEqual(t, a, b)
}

func TestChannelMap(t *testing.T) {
	var m ChannelMap
	_, ok := m.First()
	require.False(t, ok)
	b, err := m.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `{}`, string(b))

	m.set("b", "1")
	m.set("a", "2")
	m.set("b", "3")
	first, ok := m.First()
	require.True(t, ok)
	require.Equal(t, "3", first)
	require.Equal(t, []string{"b", "a"}, m.Fields())

	b, err = m.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `{"b":"3","a":"2"}`, string(b))

	c := m.clone()
	m.reset()
	require.Equal(t, 0, m.Len())
	require.Equal(t, 2, c.Len())
}
