package subscriptions

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistryInconsistent reports a field the Oracle declares as a
	// subscription field but for which no handler got registered. It points at
	// a schema wiring defect.
	ErrRegistryInconsistent = errors.New("subscription registry inconsistent")

	// ErrNoStore is returned by Subscriber when the registry has no Store.
	ErrNoStore = errors.New("subscription store not configured")

	// ErrSubscriberNotFound is returned by stores for unknown channels.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrUnauthorized is reported for subscribers rejected by Handler.Authorize.
	ErrUnauthorized = errors.New("unauthorized subscription request")
)

// FieldNotFoundError reports a requested subscription field the registry
// cannot resolve.
type FieldNotFoundError struct {
	Name string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("subscription field %q is not defined on the schema", e.Name)
}

// SelectionError reports a subscription selection set that cannot be
// flattened into root fields, such as a spread of an undefined fragment.
type SelectionError struct {
	Message string
}

func (e *SelectionError) Error() string { return e.Message }

// ConfigError reports an unsupported configuration value.
type ConfigError struct {
	Key   string
	Value any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: unsupported %s value %v", e.Key, e.Value)
}
