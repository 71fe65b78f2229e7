package agent

import (
	"errors"
	"fmt"

	"github.com/jobmesh/platform/internal/operations"
)

var errSimulatedFailure = errors.New("simulated processing failure")

func errBreakerOpen(callClass string) error {
	return fmt.Errorf("agent: %s breaker is open", callClass)
}

func unknownOperationError(name string) error {
	return fmt.Errorf("agent: unknown operation %q", name)
}

// operationByName adapts the coordinator's (a, b) ints into the registry's
// Fn shape so a "real" mode worker executes the same closed operation set
// the coordinator validates against.
func operationByName(name string) (func(a, b int) (int, error), bool) {
	return operations.Get(name)
}
