package models

import "errors"

// Domain errors. Callers match with errors.Is.
var (
	// ErrTaskNotFound is returned when an operation references an unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskIncomplete is returned when persisting a task that is missing parameters.
	ErrTaskIncomplete = errors.New("task is missing RICE parameters")

	// ErrInvalidParameter is returned for out-of-range or non-finite parameter values.
	ErrInvalidParameter = errors.New("invalid parameter value")

	// ErrInvalidAction is returned for unknown or malformed extractor actions.
	ErrInvalidAction = errors.New("invalid action")

	// ErrCollaboratorUnavailable wraps failures reaching the extractor or gateway.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrCorruptSnapshot is returned when the local snapshot cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrInvalidRecord is returned by gateways for records missing required fields.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrRecordNotFound is returned by gateways for unknown record ids.
	ErrRecordNotFound = errors.New("record not found")
)
