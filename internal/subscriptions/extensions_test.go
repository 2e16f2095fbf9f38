package subscriptions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	events "github.com/hanpama/graphsub/internal/events"
)

func buildJSON(t *testing.T, reg *Registry) string {
	t.Helper()
	ext, err := reg.HandleBuildExtensionsResponse()
	require.NoError(t, err)
	require.NotNil(t, ext)
	b, err := json.Marshal(ext)
	require.NoError(t, err)
	return string(b)
}

func TestExtensionEmptyVersion1(t *testing.T) {
	reg := NewRegistry(newMemStore())
	reg.HandleStartExecution(context.Background(), events.ExecutionStart{})
	require.JSONEq(t, `{"version":1,"channel":null,"channels":{}}`, buildJSON(t, reg))
}

func TestExtensionEmptyExcluded(t *testing.T) {
	for _, version := range []int{1, 2, 3} {
		reg := NewRegistry(newMemStore(), WithConfig(Config{Version: version, ExcludeEmpty: true}))
		reg.HandleStartExecution(context.Background(), events.ExecutionStart{})
		ext, err := reg.HandleBuildExtensionsResponse()
		require.NoError(t, err)
		require.Nil(t, ext)
	}
}

func TestExtensionFirstRecordedIsPrimary(t *testing.T) {
	reg := NewRegistry(newMemStore(), WithConfig(Config{Version: 1, ExcludeEmpty: true}))
	ctx := context.Background()
	reg.HandleStartExecution(ctx, events.ExecutionStart{})
	require.NoError(t, reg.Subscriber(ctx, &Subscriber{FieldName: "zeta"}, "channelX"))
	require.NoError(t, reg.Subscriber(ctx, &Subscriber{FieldName: "alpha"}, "channelY"))

	ext, err := reg.HandleBuildExtensionsResponse()
	require.NoError(t, err)
	require.Equal(t, "channelX", *ext.Channel)
	require.Equal(t, []string{"zeta", "alpha"}, ext.Channels.Fields())
	require.Equal(t, map[string]string{"zeta": "channelX", "alpha": "channelY"}, ext.Channels.Map())

	b, err := json.Marshal(ext)
	require.NoError(t, err)
	require.Equal(t, `{"version":1,"channel":"channelX","channels":{"zeta":"channelX","alpha":"channelY"}}`, string(b))
}

func TestExtensionOverwriteKeepsPosition(t *testing.T) {
	reg := NewRegistry(newMemStore())
	ctx := context.Background()
	require.NoError(t, reg.Subscriber(ctx, &Subscriber{FieldName: "a"}, "ch-1"))
	require.NoError(t, reg.Subscriber(ctx, &Subscriber{FieldName: "b"}, "ch-2"))
	require.NoError(t, reg.Subscriber(ctx, &Subscriber{FieldName: "a"}, "ch-3"))

	require.Equal(t, `{"version":1,"channel":"ch-3","channels":{"a":"ch-3","b":"ch-2"}}`, buildJSON(t, reg))
}

func TestExtensionVersion2(t *testing.T) {
	reg := NewRegistry(newMemStore(), WithConfig(Config{Version: 2}))
	ctx := context.Background()
	require.JSONEq(t, `{"version":2,"channel":null}`, buildJSON(t, reg))

	require.NoError(t, reg.Subscriber(ctx, &Subscriber{FieldName: "tick"}, "ch-1"))
	require.NoError(t, reg.Subscriber(ctx, &Subscriber{FieldName: "tock"}, "ch-2"))
	require.JSONEq(t, `{"version":2,"channel":"ch-1"}`, buildJSON(t, reg))
}

func TestExtensionDefaultVersion(t *testing.T) {
	reg := NewRegistry(newMemStore(), WithConfig(Config{}))
	require.JSONEq(t, `{"version":1,"channel":null,"channels":{}}`, buildJSON(t, reg))
}

func TestExtensionUnsupportedVersion(t *testing.T) {
	reg := NewRegistry(newMemStore(), WithConfig(Config{Version: 3}))
	ext, err := reg.HandleBuildExtensionsResponse()
	require.Nil(t, ext)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, 3, cfgErr.Value)
	require.Equal(t, "subscriptions.version", cfgErr.Key)
	require.Contains(t, err.Error(), "3")
}

func TestExtensionIsSnapshot(t *testing.T) {
	reg := NewRegistry(newMemStore())
	ctx := context.Background()
	require.NoError(t, reg.Subscriber(ctx, &Subscriber{FieldName: "tick"}, "ch-1"))
	ext, err := reg.HandleBuildExtensionsResponse()
	require.NoError(t, err)

	reg.HandleStartExecution(ctx, events.ExecutionStart{})
	require.Equal(t, 1, ext.Channels.Len())
	require.Equal(t, "ch-1", *ext.Channel)
}
