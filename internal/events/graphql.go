package events

import "time"

// ExecutionStart is emitted once at the start of a top-level execution,
// before any operation of the request runs. A batched request is a single
// execution.
type ExecutionStart struct {
	Operations int
}

// ExecutionFinish is emitted after every operation of an execution completed
// and the response extensions were built.
type ExecutionFinish struct {
	Operations int
	Err        error
	Duration   time.Duration
}

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
}

// GraphQLFinish is emitted after executing a GraphQL operation.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}

// SubscriberRecorded is emitted after a subscriber was stored under Channel.
type SubscriberRecorded struct {
	FieldName string
	Channel   string
	Topic     string
}
