package graph

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation marks graph data that must never be persisted.
var ErrInvariantViolation = errors.New("graph invariant violation")

// InvariantViolation means an upstream stage produced corrupt data. The run
// has to stop before anything is written.
type InvariantViolation struct {
	DeclarationID string
	NodeID        string
	Reason        string
}

func (e *InvariantViolation) Error() string {
	id := e.DeclarationID
	if id == "" {
		id = e.NodeID
	}
	return fmt.Sprintf("%v: %s (%s)", ErrInvariantViolation, e.Reason, id)
}

func (e *InvariantViolation) Unwrap() error {
	return ErrInvariantViolation
}
