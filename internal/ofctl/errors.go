package ofctl

import (
	"fmt"

	"github.com/comp590/reconf/internal/flowrule"
)

// TransportError means the request never got an HTTP response.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RejectedError is a response outside 2xx, only reported in Strict mode.
type RejectedError struct {
	Op     string
	Rule   flowrule.Rule
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s [%s] rejected with %d: %s", e.Op, e.Rule, e.Status, e.Body)
}
