package app

import (
	"errors"
	"fmt"
	"strings"

	"litshelf/pkg/domain"
)

var (
	// ErrNotFound hides whether a record is missing or just not visible to the caller.
	ErrNotFound     = errors.New("not found")
	ErrAlreadyRated = errors.New("you have already rated this work")
	ErrOwnerExists  = errors.New("the bot owner is already assigned")
	// ErrInternal is what users see for any persistence failure. Details go to the log.
	ErrInternal = errors.New("Something went wrong, please try again")
)

// PermissionError reports a missing capability. Contact names the owner to
// ask for escalation; NoOwner means nobody can grant it yet.
type PermissionError struct {
	Capability domain.Capability
	Contact    string
	NoOwner    bool
	Banned     bool
}

func (e *PermissionError) Error() string {
	if e.Banned {
		return "you are banned. Contact the bot owner to be unblocked"
	}
	if e.NoOwner {
		return "the system is not configured yet: no owner has been assigned"
	}
	msg := fmt.Sprintf("this action requires the %s role", e.Capability)
	if e.Contact != "" {
		msg += fmt.Sprintf(". Ask the bot owner (%s) for access", e.Contact)
	}
	return msg
}

// ValidationError reports rejected input. For length violations Limit,
// Length and Overflow are set.
type ValidationError struct {
	Field    string
	Message  string
	Limit    int
	Length   int
	Overflow int
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StateError means the input does not fit the user's conversation step.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	if strings.TrimSpace(e.Reason) == "" {
		return "unexpected input, please start the action again"
	}
	return e.Reason + ", please start the action again"
}
