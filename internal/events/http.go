package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the endpoint receives a request, before the body
// is read. RequestID is the id assigned to the request context.
type HTTPStart struct {
	Request   *http.Request
	RequestID string
}

// HTTPFinish is emitted once the response was written.
type HTTPFinish struct {
	Request   *http.Request
	RequestID string
	Status    int
	Duration  time.Duration
}
