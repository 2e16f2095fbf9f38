package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	reqid "github.com/hanpama/graphsub/internal/reqid"
	schema "github.com/hanpama/graphsub/internal/schema"
	store "github.com/hanpama/graphsub/internal/store"
	subscriptions "github.com/hanpama/graphsub/internal/subscriptions"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

const testSDL = `
type Query { ok: Boolean }
type Post { id: ID! }
type Subscription {
  postCreated(authorId: ID): Post
  commentAdded: Post
  secret: Post
}
`

type denyHandler struct{ subscriptions.Base }

func (denyHandler) Authorize(context.Context, *subscriptions.Subscriber) (bool, error) {
	return false, nil
}

func testFactory(f *schema.Field) (subscriptions.Handler, error) {
	if f.Name == "secret" {
		return denyHandler{}, nil
	}
	return subscriptions.Base{}, nil
}

type failingStore struct{}

func (failingStore) StoreSubscriber(context.Context, *subscriptions.Subscriber, string) error {
	return errors.New("store down")
}

func channelNamer() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ch-%d", n)
	}
}

type fixture struct {
	handler *Handler
	store   *store.Memory
}

func newFixture(t *testing.T, st subscriptions.Store, cfg subscriptions.Config, opts ...Option) fixture {
	t.Helper()
	sch, err := schema.BuildFromSDL(testSDL)
	require.NoError(t, err)
	mem := store.NewMemory()
	if st == nil {
		st = mem
	}
	reg := subscriptions.NewRegistry(st,
		subscriptions.WithOracle(subscriptions.NewSchemaOracle(sch, testFactory)),
		subscriptions.WithConfig(cfg))
	h, err := New(reg, append([]Option{WithChannelNamer(channelNamer())}, opts...)...)
	require.NoError(t, err)
	return fixture{handler: h, store: mem}
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func mustJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := post(t, f.handler, `{"query":"subscription ($a: ID) { postCreated(authorId: $a) { id } }","variables":{"a":"7"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	want := mustJSON(t, `{
		"data": {"postCreated": null},
		"extensions": {"subscriptions": {"version": 1, "channel": "ch-1", "channels": {"postCreated": "ch-1"}}}
	}`)
	if diff := cmp.Diff(want, decodeBody(t, w)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}

	sub, err := f.store.SubscriberByChannel(context.Background(), "ch-1")
	require.NoError(t, err)
	require.Equal(t, "postCreated", sub.FieldName)
	require.Equal(t, "post_created", sub.Topic)
	require.Equal(t, map[string]any{"authorId": "7"}, sub.Args)
}

func TestSubscribeMultipleFields(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := post(t, f.handler, `{"query":"subscription { created: postCreated { id } commentAdded { id } }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t,
		`{"data":{"commentAdded":null,"created":null},"extensions":{"subscriptions":{"version":1,"channel":"ch-1","channels":{"postCreated":"ch-1","commentAdded":"ch-2"}}}}`+"\n",
		w.Body.String())
}

func TestUnknownField(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := post(t, f.handler, `{"query":"subscription { missing }"}`)
	require.Equal(t, http.StatusOK, w.Code)

	want := mustJSON(t, `{
		"data": {"missing": null},
		"errors": [{"message": "subscription field \"missing\" is not defined on the schema", "path": ["missing"]}],
		"extensions": {"subscriptions": {"version": 1, "channel": null, "channels": {}}}
	}`)
	if diff := cmp.Diff(want, decodeBody(t, w)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestFragmentSelections(t *testing.T) {
	for name, query := range map[string]string{
		"spread": `subscription { ...F } fragment F on Subscription { commentAdded { id } }`,
		"inline": `subscription { ... on Subscription { commentAdded { id } } }`,
		"untyped": `subscription { ... { commentAdded { id } } }`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil, subscriptions.DefaultConfig())
			body, err := json.Marshal(map[string]string{"query": query})
			require.NoError(t, err)
			w := post(t, f.handler, string(body))
			require.Equal(t, http.StatusOK, w.Code)

			want := mustJSON(t, `{
				"data": {"commentAdded": null},
				"extensions": {"subscriptions": {"version": 1, "channel": "ch-1", "channels": {"commentAdded": "ch-1"}}}
			}`)
			if diff := cmp.Diff(want, decodeBody(t, w)); diff != "" {
				t.Fatalf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnknownFragment(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := post(t, f.handler, `{"query":"subscription { ...Missing }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w).(map[string]any)
	require.Nil(t, body["data"])
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	require.Equal(t, `unknown fragment "Missing"`, errs[0].(map[string]any)["message"])
}

func TestUnauthorized(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := post(t, f.handler, `{"query":"subscription { secret { id } postCreated { id } }"}`)
	require.Equal(t, http.StatusOK, w.Code)

	want := mustJSON(t, `{
		"data": {"secret": null, "postCreated": null},
		"errors": [{"message": "Unauthorized subscription request", "path": ["secret"]}],
		"extensions": {"subscriptions": {"version": 1, "channel": "ch-1", "channels": {"postCreated": "ch-1"}}}
	}`)
	if diff := cmp.Diff(want, decodeBody(t, w)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestRejectsNonSubscription(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := post(t, f.handler, `{"query":"{ ok }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w).(map[string]any)
	require.Nil(t, body["data"])
	require.Len(t, body["errors"], 1)
}

func TestSyntaxError(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := post(t, f.handler, `{"query":"subscription {"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w).(map[string]any)
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].(map[string]any), "locations")
}

func TestBatchIsOneExecution(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := post(t, f.handler, `[
		{"query":"subscription { postCreated { id } }"},
		{"query":"subscription { commentAdded { id } }"}
	]`)
	require.Equal(t, http.StatusOK, w.Code)

	ext := mustJSON(t, `{"subscriptions": {"version": 1, "channel": "ch-1", "channels": {"postCreated": "ch-1", "commentAdded": "ch-2"}}}`)
	want := []any{
		map[string]any{"data": map[string]any{"postCreated": nil}, "extensions": ext},
		map[string]any{"data": map[string]any{"commentAdded": nil}, "extensions": ext},
	}
	if diff := cmp.Diff(want, decodeBody(t, w)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestExecutionsDoNotLeakChannels(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	post(t, f.handler, `{"query":"subscription { postCreated { id } }"}`)
	w := post(t, f.handler, `{"query":"subscription { commentAdded { id } }"}`)

	want := mustJSON(t, `{
		"data": {"commentAdded": null},
		"extensions": {"subscriptions": {"version": 1, "channel": "ch-2", "channels": {"commentAdded": "ch-2"}}}
	}`)
	if diff := cmp.Diff(want, decodeBody(t, w)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreFailureIsFieldError(t *testing.T) {
	f := newFixture(t, failingStore{}, subscriptions.DefaultConfig())
	w := post(t, f.handler, `{"query":"subscription { postCreated { id } }"}`)
	require.Equal(t, http.StatusOK, w.Code)

	want := mustJSON(t, `{
		"data": {"postCreated": null},
		"errors": [{"message": "store down", "path": ["postCreated"]}],
		"extensions": {"subscriptions": {"version": 1, "channel": null, "channels": {}}}
	}`)
	if diff := cmp.Diff(want, decodeBody(t, w)); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestExtensionVersions(t *testing.T) {
	t.Run("reduced", func(t *testing.T) {
		f := newFixture(t, nil, subscriptions.Config{Version: 2})
		w := post(t, f.handler, `{"query":"subscription { postCreated { id } }"}`)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w).(map[string]any)
		require.Equal(t, mustJSON(t, `{"subscriptions":{"version":2,"channel":"ch-1"}}`), body["extensions"])
	})

	t.Run("exclude empty", func(t *testing.T) {
		f := newFixture(t, nil, subscriptions.Config{Version: 1, ExcludeEmpty: true})
		w := post(t, f.handler, `{"query":"subscription { missing }"}`)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w).(map[string]any)
		require.NotContains(t, body, "extensions")
	})

	t.Run("unsupported", func(t *testing.T) {
		f := newFixture(t, nil, subscriptions.Config{Version: 3})
		w := post(t, f.handler, `{"query":"subscription { postCreated { id } }"}`)
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestInconsistentRegistry(t *testing.T) {
	sch, err := schema.BuildFromSDL(testSDL)
	require.NoError(t, err)
	broken := func(*schema.Field) (subscriptions.Handler, error) { return nil, errors.New("no handler") }
	reg := subscriptions.NewRegistry(store.NewMemory(),
		subscriptions.WithOracle(subscriptions.NewSchemaOracle(sch, broken)))
	h, err := New(reg)
	require.NoError(t, err)

	w := post(t, h, `{"query":"subscription { postCreated { id } }"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetRequest(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	req := httptest.NewRequest("GET", "/?query=subscription%7BcommentAdded%7Bid%7D%7D", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	_, err := f.store.SubscriberByChannel(context.Background(), "ch-1")
	require.NoError(t, err)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig())
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest("PUT", "/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestForwardedHeadersAndRequestID(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig(), WithMetadataHeaders("X-Test"))

	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"subscription { postCreated { id } }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test", "abc")
	req.Header.Set("X-Other", "nope")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	sub, err := f.store.SubscriberByChannel(context.Background(), "ch-1")
	require.NoError(t, err)
	ctx, err := subscriptions.MetadataSerializer{}.Unserialize(context.Background(), sub.Context)
	require.NoError(t, err)

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"abc"}, md.Get("x-test"))
	require.Empty(t, md.Get("x-other"))

	id, ok := reqid.FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, []string{id}, md.Get("graphql-request-id"))
}

func TestCORSAndPreflight(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig(), WithCORS("*"))

	// simple request
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"subscription { postCreated { id } }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	f.handler.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Test", pw.Header().Get("Access-Control-Allow-Headers"))
}

func TestMaxBodyBytes(t *testing.T) {
	f := newFixture(t, nil, subscriptions.DefaultConfig(), WithMaxBodyBytes(10))
	w := post(t, f.handler, `{"query":"1234567890"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
