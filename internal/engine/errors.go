package engine

import "fmt"

// ComputationError marks an unexpected failure inside the clustering
// pipeline (e.g., a decomposition that failed to converge). The queue
// treats these as retryable, unlike ineligibility, which is a normal
// completed outcome.
type ComputationError struct {
	Stage string
	Err   error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("clustering computation failed at %s: %v", e.Stage, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}
