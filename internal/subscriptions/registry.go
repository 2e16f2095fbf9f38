package subscriptions

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphsub/internal/eventbus"
	logging "github.com/hanpama/graphsub/internal/logging"
)

// Registrar accepts handler registrations. Oracles register the handlers they
// resolve through it.
type Registrar interface {
	Register(h Handler, fieldName string)
}

// Registry maps subscription field names to handlers and records the
// subscribers of the current execution. Construct one per schema build.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	oracle Oracle
	store  Store
	config Config
	logger *zap.Logger

	// channels is scoped to one execution; see HandleStartExecution.
	channels ChannelMap
}

type Option func(*Registry)

// WithOracle sets the source of truth consulted when a field is not
// registered in memory.
func WithOracle(o Oracle) Option { return func(r *Registry) { r.oracle = o } }

// WithConfig sets the extension payload configuration.
func WithConfig(c Config) Option { return func(r *Registry) { r.config = c } }

func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.logger = l } }

// NewRegistry creates a registry persisting subscribers to store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		store:    store,
		config:   DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, f := range opts {
		f(r)
	}
	r.logger = logging.Component(r.logger, "subscriptions")
	return r
}

// Listen subscribes the registry to execution-start events on bus.
func (r *Registry) Listen(bus *eventbus.Bus) (unsubscribe func()) {
	return eventbus.On(bus, r.HandleStartExecution)
}

// Register stores h under fieldName, replacing any previous handler.
func (r *Registry) Register(h Handler, fieldName string) {
	r.mu.Lock()
	r.handlers[fieldName] = h
	r.mu.Unlock()
	r.logger.Debug("subscription handler registered", zap.String("field", fieldName))
}

// Has reports whether fieldName is registered or declared by the oracle.
func (r *Registry) Has(fieldName string) bool {
	if _, ok := r.lookup(fieldName); ok {
		return true
	}
	return r.oracle != nil && r.oracle.HasSubscriptionField(fieldName)
}

// Keys returns the subscription field names declared by the oracle, which
// may include fields whose handlers were not constructed yet.
func (r *Registry) Keys() []string {
	if r.oracle == nil {
		return nil
	}
	return r.oracle.SubscriptionFieldNames()
}

// Subscription returns the handler of fieldName, resolving it through the
// oracle on a miss. Callers check Has first; a field that is still missing
// after resolution yields ErrRegistryInconsistent.
func (r *Registry) Subscription(fieldName string) (Handler, error) {
	if h, ok := r.lookup(fieldName); ok {
		return h, nil
	}
	if r.oracle != nil {
		if err := r.oracle.ResolveSubscriptionField(fieldName, r); err != nil {
			r.logger.Error("subscription field resolution failed", zap.String("field", fieldName), zap.Error(err))
			return nil, fmt.Errorf("%w: resolve field %q: %w", ErrRegistryInconsistent, fieldName, err)
		}
		if h, ok := r.lookup(fieldName); ok {
			return h, nil
		}
	}
	r.logger.Error("subscription field has no handler", zap.String("field", fieldName))
	return nil, fmt.Errorf("%w: no handler registered for field %q", ErrRegistryInconsistent, fieldName)
}

func (r *Registry) lookup(fieldName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[fieldName]
	return h, ok
}
