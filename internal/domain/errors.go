package domain

import "fmt"

// ValidationError reports an invalid experiment configuration at creation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown experiment or variation id.
type NotFoundError struct {
	Kind string // "experiment" | "variation"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// InvalidStateError reports an illegal lifecycle transition or an operation
// attempted against a terminal experiment.
type InvalidStateError struct {
	Op   string
	From Status
	To   Status // zero for non-transition operations
}

func (e *InvalidStateError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("%s: illegal transition %s → %s", e.Op, e.From, e.To)
	}
	return fmt.Sprintf("%s: not allowed in status %s", e.Op, e.From)
}
