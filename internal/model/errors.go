package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationConflict is returned when a proposed quest window overlaps an
	// existing quest. The concrete error is *ConflictError.
	ErrValidationConflict = errors.New("quest window conflict")

	// ErrDataAccess marks store failures. Safe to retry the whole operation.
	ErrDataAccess = errors.New("data access failed")

	// ErrCreationFailure marks a failed instance insert during expansion.
	ErrCreationFailure = errors.New("instance creation failed")

	// ErrInvalidWindow is returned for windows whose end precedes start.
	ErrInvalidWindow = errors.New("invalid quest window")
)

// ConflictError names the existing quest a candidate window collides with.
type ConflictError struct {
	QuestID   string
	QuestName string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("quest window overlaps %q", e.QuestName)
}

func (e *ConflictError) Is(target error) bool { return target == ErrValidationConflict }

// DataAccess wraps a store error with the operation that failed.
//
// Example:
//
//	return model.DataAccess("list quests", err)
func DataAccess(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{kind: ErrDataAccess, op: op, err: err}
}

// CreationFailure wraps an insert error for a single template.
func CreationFailure(templateID string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{kind: ErrCreationFailure, op: "insert instance of " + templateID, err: err}
}

type opError struct {
	kind error
	op   string
	err  error
}

func (e *opError) Error() string { return fmt.Sprintf("%s: %s: %v", e.kind, e.op, e.err) }
func (e *opError) Unwrap() []error {
	return []error{e.kind, e.err}
}
