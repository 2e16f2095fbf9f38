package subscriptions

import (
	"context"
	"fmt"
	"sort"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	reqid "github.com/hanpama/graphsub/internal/reqid"
)

// ContextSerializer encodes the parts of an execution context that must
// survive until an update is resolved for a stored subscriber.
type ContextSerializer interface {
	Serialize(ctx context.Context) ([]byte, error)
	Unserialize(ctx context.Context, data []byte) (context.Context, error)
}

// MetadataSerializer keeps the request id and the outgoing gRPC metadata
// forwarded from HTTP headers. The encoding is a protobuf Struct.
type MetadataSerializer struct{}

const (
	ctxKeyRequestID = "request_id"
	ctxKeyMetadata  = "metadata"
)

func (MetadataSerializer) Serialize(ctx context.Context) ([]byte, error) {
	fields := map[string]any{}
	if id, ok := reqid.FromContext(ctx); ok {
		fields[ctxKeyRequestID] = id
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok && md.Len() > 0 {
		keys := make([]string, 0, md.Len())
		for k := range md {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := make(map[string]any, len(keys))
		for _, k := range keys {
			vals := make([]any, len(md[k]))
			for i, v := range md[k] {
				vals[i] = v
			}
			m[k] = vals
		}
		fields[ctxKeyMetadata] = m
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("serialize context: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(st)
}

func (MetadataSerializer) Unserialize(ctx context.Context, data []byte) (context.Context, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unserialize context: %w", err)
	}
	if v, ok := st.Fields[ctxKeyRequestID]; ok && v.GetStringValue() != "" {
		ctx = reqid.WithID(ctx, v.GetStringValue())
	}
	if v, ok := st.Fields[ctxKeyMetadata]; ok {
		md := metadata.MD{}
		for k, list := range v.GetStructValue().GetFields() {
			for _, item := range list.GetListValue().GetValues() {
				md.Append(k, item.GetStringValue())
			}
		}
		if md.Len() > 0 {
			ctx = metadata.NewOutgoingContext(ctx, md)
		}
	}
	return ctx, nil
}
