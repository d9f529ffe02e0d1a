// Package tools provides the investigation function registry and
// execution framework.
//
// This file defines sentinel error types for function execution.
package tools

import "fmt"

// ErrUnknownFunction is returned when a model requests a function that
// is not present in the registry. This is a contract violation by the
// model, not a transient execution failure. Callers should degrade the
// round rather than retrying the same call.
type ErrUnknownFunction struct {
	Function string
}

// Error implements the error interface.
func (e *ErrUnknownFunction) Error() string {
	return fmt.Sprintf("unknown function %q", e.Function)
}
