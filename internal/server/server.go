package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	eventbus "github.com/hanpama/graphsub/internal/eventbus"
	events "github.com/hanpama/graphsub/internal/events"
	language "github.com/hanpama/graphsub/internal/language"
	logging "github.com/hanpama/graphsub/internal/logging"
	reqid "github.com/hanpama/graphsub/internal/reqid"
	subscriptions "github.com/hanpama/graphsub/internal/subscriptions"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

// Handler is an http.Handler that registers GraphQL subscriptions.
// Each request is one execution: the subscribed fields are stored as
// subscribers and the assigned channels are reported in the "subscriptions"
// response extension.
type Handler struct {
	registry *subscriptions.Registry
	bus      *eventbus.Bus
	logger   *zap.Logger
	opt      Options

	// The registry records channels per execution, so executions run one at
	// a time.
	mu sync.Mutex
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers to forward into the gRPC metadata
	// stored with each subscriber. Header names are case-insensitive.
	MetadataHeaders []string

	// Bus receives execution events. The registry must listen on it.
	Bus *eventbus.Bus

	Logger *zap.Logger

	// Serializer encodes the execution context stored with subscribers.
	Serializer subscriptions.ContextSerializer

	// ChannelName generates the channel of each new subscriber.
	ChannelName func() string
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }
func WithLogger(l *zap.Logger) Option     { return func(o *Options) { o.Logger = l } }
func WithSerializer(s subscriptions.ContextSerializer) Option {
	return func(o *Options) { o.Serializer = s }
}
func WithChannelNamer(f func() string) Option { return func(o *Options) { o.ChannelName = f } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a subscription endpoint backed by registry. Without
// WithEventBus the handler creates a private bus and attaches registry to it.
func New(registry *subscriptions.Registry, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("server: nil registry")
	}
	op := Options{
		Timeout:     10 * time.Second,
		Serializer:  subscriptions.MetadataSerializer{},
		ChannelName: subscriptions.NewChannelName,
	}
	for _, f := range opts {
		f(&op)
	}
	bus := op.Bus
	if bus == nil {
		bus = eventbus.New()
		registry.Listen(bus)
	}
	return &Handler{
		registry: registry,
		bus:      bus,
		logger:   logging.Component(op.Logger, "server"),
		opt:      op,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Emit(ctx, h.bus, events.HTTPStart{Request: r, RequestID: rid})
	defer func() {
		eventbus.Emit(ctx, h.bus, events.HTTPFinish{Request: r, RequestID: rid, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(nil, "method not allowed"), h.opt.Pretty)
		return
	}

	// Map configured headers into metadata
	md := metadata.MD{}
	if len(h.opt.MetadataHeaders) > 0 {
		allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
		for _, hdr := range h.opt.MetadataHeaders {
			allowed[strings.ToLower(hdr)] = struct{}{}
		}
		for k, v := range r.Header {
			if _, ok := allowed[strings.ToLower(k)]; ok {
				md[strings.ToLower(k)] = v
			}
		}
	}
	md["graphql-request-id"] = []string{rid}
	ctx = metadata.NewOutgoingContext(ctx, md)

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(nil, berr.Message), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch == nil {
		batch = []GraphQLRequest{req}
	}
	results, err := h.execute(ctx, batch)
	if err != nil {
		h.logger.Error("execution failed", zap.String("request_id", rid), zap.Error(err))
		status = http.StatusInternalServerError
		writeJSON(w, status, errorResponse(nil, "internal server error"), h.opt.Pretty)
		return
	}
	if req.Query != "" {
		writeJSON(w, status, results[0], h.opt.Pretty)
		return
	}
	writeJSON(w, status, results, h.opt.Pretty)
}

// execute runs reqs as a single execution and attaches the subscriptions
// extension to every result. The error is non-nil only for failures that
// invalidate the whole response.
func (h *Handler) execute(ctx context.Context, reqs []GraphQLRequest) (results []specResult, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	eventbus.Emit(ctx, h.bus, events.ExecutionStart{Operations: len(reqs)})
	defer func() {
		eventbus.Emit(ctx, h.bus, events.ExecutionFinish{Operations: len(reqs), Err: err, Duration: time.Since(start)})
	}()

	results = make([]specResult, len(reqs))
	for i := range reqs {
		res, err := h.executeOne(ctx, reqs[i])
		if err != nil {
			return nil, err
		}
		results[i] = res
	}

	ext, err := h.registry.HandleBuildExtensionsResponse()
	if err != nil {
		return nil, err
	}
	if ext != nil {
		for i := range results {
			results[i].Extensions = map[string]any{subscriptions.ExtensionKey: ext}
		}
	}
	return results, nil
}

func (h *Handler) executeOne(ctx context.Context, req GraphQLRequest) (specResult, error) {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return specResult{Errors: []specError{toSpecError(err)}}, nil
	}
	op, err := language.SelectOperation(doc, req.OperationName)
	if err != nil {
		return errorResponse(nil, err.Error()), nil
	}
	opType := string(op.Operation)

	start := time.Now()
	var errs []error
	eventbus.Emit(ctx, h.bus, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	defer func() {
		eventbus.Emit(ctx, h.bus, events.GraphQLFinish{
			Query:         req.Query,
			OperationName: req.OperationName,
			OperationType: opType,
			Errors:        errs,
			Duration:      time.Since(start),
		})
	}()

	if op.Operation != language.Subscription {
		err := errors.New("only subscription operations are supported on this endpoint")
		errs = append(errs, err)
		return errorResponse(nil, err.Error()), nil
	}

	sub, err := subscriptions.NewSubscriber(ctx, language.Narrow(doc, op), h.opt.Serializer)
	if err != nil {
		errs = append(errs, err)
		return specResult{}, err
	}
	resolutions, err := h.registry.Subscriptions(sub)
	if err != nil {
		errs = append(errs, err)
		var selErr *subscriptions.SelectionError
		if errors.As(err, &selErr) {
			return errorResponse(nil, selErr.Error()), nil
		}
		return specResult{}, err
	}

	data := make(map[string]any, len(resolutions))
	out := specResult{Data: data}
	for _, res := range resolutions {
		var (
			field *language.Field
			ferr  error
		)
		switch res := res.(type) {
		case subscriptions.NotFound:
			field, ferr = res.Field, res.Err()
		case subscriptions.Found:
			field, ferr = res.Field, h.subscribe(ctx, sub, res, req.Variables)
		}
		name := responseName(field)
		data[name] = nil
		if ferr != nil {
			errs = append(errs, ferr)
			out.Errors = append(out.Errors, specError{Message: fieldErrorMessage(ferr), Path: []any{name}})
		}
	}
	return out, nil
}

// subscribe stores the subscriber of one resolved field under a new channel.
func (h *Handler) subscribe(ctx context.Context, base *subscriptions.Subscriber, found subscriptions.Found, vars map[string]any) error {
	sub, err := h.registry.ForField(base, found.Field, vars)
	if err != nil {
		return err
	}
	ok, err := found.Handler.Authorize(ctx, sub)
	if err != nil {
		return err
	}
	if !ok {
		return subscriptions.ErrUnauthorized
	}
	sub.Topic = found.Handler.EncodeTopic(sub, sub.FieldName)

	channel := h.opt.ChannelName()
	if err := h.registry.Subscriber(ctx, sub, channel); err != nil {
		h.logger.Warn("failed to store subscriber",
			zap.String("field", sub.FieldName),
			zap.String("channel", channel),
			zap.Error(err))
		return err
	}
	eventbus.Emit(ctx, h.bus, events.SubscriberRecorded{FieldName: sub.FieldName, Channel: channel, Topic: sub.Topic})
	return nil
}

const unauthorizedMessage = "Unauthorized subscription request"

func fieldErrorMessage(err error) string {
	if errors.Is(err, subscriptions.ErrUnauthorized) {
		return unauthorizedMessage
	}
	return err.Error()
}

func responseName(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

type requestError struct {
	Message string
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *requestError) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, &requestError{Message: "missing 'query'"}
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, &requestError{Message: "invalid 'variables' JSON"}
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct == "" || ct == "application/json" || strings.HasPrefix(ct, "application/json;") {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return GraphQLRequest{}, nil, &requestError{Message: "failed to read body"}
		}
		defer r.Body.Close()
		if maxBody > 0 && int64(len(body)) > maxBody {
			return GraphQLRequest{}, nil, &requestError{Message: errBodyTooLargeMessage}
		}

		// Try array (batch)
		var arr []GraphQLRequest
		if len(body) > 0 && body[0] == '[' {
			if err := json.Unmarshal(body, &arr); err != nil {
				return GraphQLRequest{}, nil, &requestError{Message: "invalid JSON"}
			}
			if len(arr) == 0 {
				return GraphQLRequest{}, nil, &requestError{Message: "empty batch"}
			}
			return GraphQLRequest{}, arr, nil
		}
		// Single
		var req GraphQLRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return GraphQLRequest{}, nil, &requestError{Message: "invalid JSON"}
		}
		if req.Query == "" {
			return GraphQLRequest{}, nil, &requestError{Message: "missing 'query'"}
		}
		if req.Variables == nil {
			req.Variables = map[string]any{}
		}
		return req, nil, nil
	}

	return GraphQLRequest{}, nil, &requestError{Message: "unsupported Content-Type"}
}

// ------------------ Response formatting ------------------

type specLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type specError struct {
	Message    string         `json:"message"`
	Locations  []specLocation `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type specResult struct {
	Data       any            `json:"data"`
	Errors     []specError    `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func errorResponse(data any, message string) specResult {
	return specResult{Data: data, Errors: []specError{{Message: message}}}
}

func toSpecError(err error) specError {
	var gqlErr *gqlerror.Error
	if !errors.As(err, &gqlErr) {
		return specError{Message: err.Error()}
	}
	se := specError{Message: gqlErr.Message, Extensions: gqlErr.Extensions}
	for _, loc := range gqlErr.Locations {
		se.Locations = append(se.Locations, specLocation{Line: loc.Line, Column: loc.Column})
	}
	return se
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
