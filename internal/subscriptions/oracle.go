package subscriptions

import (
	"fmt"
	"sync"

	language "github.com/hanpama/graphsub/internal/language"
	schema "github.com/hanpama/graphsub/internal/schema"
)

// Oracle is the authoritative source of subscription fields.
type Oracle interface {
	HasSubscriptionField(name string) bool
	SubscriptionFieldNames() []string
	// ResolveSubscriptionField constructs the handler of name and registers
	// it with reg.
	ResolveSubscriptionField(name string, reg Registrar) error
}

// ArgumentCoercer is implemented by oracles that know the declared arguments
// of subscription fields.
type ArgumentCoercer interface {
	CoerceArguments(field *language.Field, vars map[string]any) (map[string]any, error)
}

// RootTyper is implemented by oracles that know the name of the subscription
// root type. Fragments selected on the root must be typed on it.
type RootTyper interface {
	SubscriptionTypeName() string
}

// HandlerFactory constructs the handler of a subscription root field.
type HandlerFactory func(field *schema.Field) (Handler, error)

// DefaultHandlerFactory serves every field with Base.
func DefaultHandlerFactory(*schema.Field) (Handler, error) { return Base{}, nil }

// SchemaOracle answers from the subscription root type of a schema and builds
// handlers lazily with a factory. Each field's handler is constructed at most
// once; later resolutions register the same instance again.
type SchemaOracle struct {
	schema  *schema.Schema
	factory HandlerFactory

	mu    sync.Mutex
	built map[string]Handler
}

// NewSchemaOracle creates an oracle over s. A nil factory means
// DefaultHandlerFactory.
func NewSchemaOracle(s *schema.Schema, factory HandlerFactory) *SchemaOracle {
	if factory == nil {
		factory = DefaultHandlerFactory
	}
	return &SchemaOracle{schema: s, factory: factory, built: make(map[string]Handler)}
}

func (o *SchemaOracle) HasSubscriptionField(name string) bool {
	return o.schema.SubscriptionField(name) != nil
}

func (o *SchemaOracle) SubscriptionFieldNames() []string {
	return o.schema.SubscriptionFieldNames()
}

func (o *SchemaOracle) SubscriptionTypeName() string {
	return o.schema.SubscriptionType
}

// CoerceArguments coerces the arguments of field to the types its schema
// definition declares.
func (o *SchemaOracle) CoerceArguments(field *language.Field, vars map[string]any) (map[string]any, error) {
	def := o.schema.SubscriptionField(field.Name)
	if def == nil {
		return nil, &FieldNotFoundError{Name: field.Name}
	}
	return def.CoerceArguments(field.Arguments, vars)
}

func (o *SchemaOracle) ResolveSubscriptionField(name string, reg Registrar) error {
	h, err := o.handler(name)
	if err != nil {
		return err
	}
	reg.Register(h, name)
	return nil
}

func (o *SchemaOracle) handler(name string) (Handler, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.built[name]; ok {
		return h, nil
	}
	field := o.schema.SubscriptionField(name)
	if field == nil {
		return nil, &FieldNotFoundError{Name: name}
	}
	h, err := o.factory(field)
	if err != nil {
		return nil, fmt.Errorf("construct handler for %q: %w", name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("construct handler for %q: factory returned nil", name)
	}
	o.built[name] = h
	return h, nil
}
