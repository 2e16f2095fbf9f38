// Package subscriptions implements the subscription registry of the GraphQL
// endpoint: which root fields are subscription fields, which handler serves
// each of them, and which pub/sub channel every subscriber of the current
// execution was bound to.
//
// # Handler lookup
//
// Handlers are kept in an in-memory map keyed by field name. The map is a
// cache in front of an Oracle, the authoritative source of subscription
// fields (normally the schema's subscription root type). A lookup that misses
// the map asks the Oracle to resolve the field; resolution is expected to call
// Register as a side effect. A field the Oracle claims but never registers is
// reported as ErrRegistryInconsistent instead of being retried.
//
// Subscriptions maps every field selected by the subscription operations of a
// document to a Resolution: Found carries the handler, NotFound marks a field
// the registry cannot serve. NotFound is not an error by itself; the caller
// turns it into a field error so the rest of the response can still resolve.
//
// # Execution scope
//
// The registry tracks the subscribers recorded during one top-level execution
// in an insertion-ordered field→channel map. HandleStartExecution clears it;
// Subscriber persists a subscriber through the Store and then records its
// channel; HandleBuildExtensionsResponse renders the map as the response
// extension payload:
//
//	version 1: {"version":1,"channel":<first channel|null>,"channels":{field:channel,...}}
//	version 2: {"version":2,"channel":<first channel|null>}
//
// The primary channel is the first one recorded in the execution. The
// transient map is not synchronized; callers serialize executions that share
// a Registry.
package subscriptions
