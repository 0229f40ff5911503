package onboard

import "fmt"

// PhaseError reports the first failure of a run: the phase it happened in,
// the operation within that phase, and the underlying cause.
type PhaseError struct {
	Phase     string
	Operation string
	Err       error
}

func (e *PhaseError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("phase %s failed at %q: %v", e.Phase, e.Operation, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
