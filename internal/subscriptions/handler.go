package subscriptions

import (
	"context"

	"github.com/iancoleman/strcase"

	language "github.com/hanpama/graphsub/internal/language"
)

// Handler serves one subscription field. It decides who receives the next
// published update and how the update is resolved for each subscriber.
type Handler interface {
	// Authorize reports whether sub may subscribe. It runs once, before the
	// subscriber is recorded.
	Authorize(ctx context.Context, sub *Subscriber) (bool, error)

	// Filter reports whether sub should receive an update built from root.
	// ctx carries the subscriber's restored execution context.
	Filter(ctx context.Context, sub *Subscriber, root any) (bool, error)

	// Resolve produces the field value delivered to sub for root.
	Resolve(ctx context.Context, sub *Subscriber, root any) (any, error)

	// EncodeTopic returns the topic sub listens on.
	EncodeTopic(sub *Subscriber, fieldName string) string

	// DecodeTopic returns the topic a published root value is sent to.
	DecodeTopic(fieldName string, root any) string
}

// Base is a Handler with permissive defaults. Embed it and override what a
// field needs. The default topic is the snake_case field name.
type Base struct{}

func (Base) Authorize(context.Context, *Subscriber) (bool, error) { return true, nil }

func (Base) Filter(context.Context, *Subscriber, any) (bool, error) { return true, nil }

func (Base) Resolve(_ context.Context, _ *Subscriber, root any) (any, error) { return root, nil }

func (Base) EncodeTopic(_ *Subscriber, fieldName string) string { return strcase.ToSnake(fieldName) }

func (Base) DecodeTopic(fieldName string, _ any) string { return strcase.ToSnake(fieldName) }

// Resolution is the outcome of looking up the handler of a requested
// subscription field. It is either Found or NotFound.
type Resolution interface {
	FieldName() string
	resolution()
}

// Found binds a requested field to its handler.
type Found struct {
	Field   *language.Field
	Handler Handler
}

func (f Found) FieldName() string { return f.Field.Name }
func (Found) resolution()         {}

// NotFound marks a requested field the registry cannot serve.
type NotFound struct {
	Field *language.Field
}

func (n NotFound) FieldName() string { return n.Field.Name }
func (NotFound) resolution()         {}

// Err returns the field error the response should carry for n.
func (n NotFound) Err() error { return &FieldNotFoundError{Name: n.Field.Name} }
